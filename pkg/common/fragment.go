package common

// GenericCandidate is a type-only mention ("a dog") whose identity is decided
// at merge time, when the store knows more named entities than the
// extraction task did.
type GenericCandidate struct {
	Type        string `json:"type"`
	Mention     string `json:"mention"`
	Description string `json:"description,omitempty"`
}

// Text is what gets embedded when the candidate is compared with named
// entities.
func (g GenericCandidate) Text() string {
	if g.Description == "" {
		return g.Mention
	}
	return g.Mention + ": " + g.Description
}

// FragmentEntity is an entity as extracted from one chunk. Exactly one of Key
// and Candidate is set: Key for named entities, Candidate for generic ones.
type FragmentEntity struct {
	Key         string            `json:"key,omitempty"`
	Candidate   *GenericCandidate `json:"candidate,omitempty"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Embedding   []float32         `json:"-"`
}

// Resolved reports whether the entity already carries its store key.
func (e FragmentEntity) Resolved() bool {
	return e.Candidate == nil
}

// AppendDescription joins descriptions of repeated mentions within one chunk.
// Identical descriptions are kept, empty ones are skipped.
func AppendDescription(current, next string) string {
	switch {
	case next == "":
		return current
	case current == "":
		return next
	}
	return current + "\n" + next
}

// FragmentRelationship links two entities of the same fragment by index.
type FragmentRelationship struct {
	Source      int     `json:"source"`
	Target      int     `json:"target"`
	Description string  `json:"description"`
	Strength    float64 `json:"strength"`
}

// FragmentGraph is the result of extracting a single chunk. It is owned by the
// task that produced it until it is handed to the upsert policy.
type FragmentGraph struct {
	Chunk         Chunk                  `json:"chunk"`
	Entities      []FragmentEntity       `json:"entities"`
	Relationships []FragmentRelationship `json:"relationships"`
}

// Empty reports whether the fragment contributes nothing.
func (f *FragmentGraph) Empty() bool {
	return f == nil || (len(f.Entities) == 0 && len(f.Relationships) == 0)
}
