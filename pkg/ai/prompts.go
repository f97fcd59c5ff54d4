package ai

const GraphExtractionPrompt = `
# Task Context
You build a knowledge graph from text. Extract the entities and the relationships between them that are explicitly stated in the provided text chunk.

# Background Data
- **Domain:** %s
- **Entity_types:** [%s]
- **Example_queries:** the graph will be used to answer questions such as
%s

# Detailed Task Description & Rules
## Entities
1. Extract every entity that belongs to one of the entity types [%s]. Never invent new types.
2. For each entity return:
   - **name:** the name exactly as it is used in the text (proper nouns keep their spelling).
   - **type:** one of the entity types.
   - **description:** everything the text says about the entity. Do not summarize away details.
3. If an entity is only referred to by its kind and has no name ("a dog", "some ghosts"), still extract it. Use the lowercase mention including its article as the name, e.g. "a dog".
4. Resolve pronouns to the entity they refer to. Never extract pronouns as entities.

## Relationships
1. Extract relationships between the extracted entities only. Both source and target must be names from your entity list, spelled identically.
2. For each relationship return:
   - **source** and **target:** the two entity names.
   - **description:** how the two entities are related according to the text.
   - **strength:** a number between 0 and 1 expressing how strongly the text supports the relationship.
3. Do not relate an entity to itself.

# Immediate Task Description or Request
Extract the entities and relationships from the following text.

## Text
%s

# Output Formatting
Return JSON only:
{
  "entities": [{"name": string, "type": string, "description": string}],
  "relationships": [{"source": string, "target": string, "description": string, "strength": number}]
}
`

const QueryEntitiesPrompt = `
# Task Context
You prepare a question for retrieval from a knowledge graph by listing the entities it refers to.

# Background Data
- **Domain:** %s
- **Entity_types:** [%s]

# Detailed Task Description & Rules
- **named:** entities the question refers to by a proper name, spelled as in the question (e.g. "Scrooge", "London").
- **generic:** entities the question refers to only by kind, written as a lowercase phrase (e.g. "a ghost", "animals"). If the kind matches one of the entity types, use the type name.
- Do not include the question words themselves, pronouns or abstract verbs.
- Both lists may be empty.

# Examples
Question: "Who is Scrooge?"
Output: {"named": ["Scrooge"], "generic": []}

Question: "Which ghosts visit Scrooge in London?"
Output: {"named": ["Scrooge", "London"], "generic": ["ghosts"]}

# Immediate Task Description or Request
Question: %s

# Output Formatting
Return JSON only:
{"named": [string], "generic": [string]}
`

const AnswerPrompt = `
# Task Context
You answer questions using only the data retrieved from a knowledge graph.

# Background Data
The data has the following sections:

Relevant Entities:
<entity_name>,<key>: <description>

Connecting Relationships:
<key<->key>,<weight>: <description>

Sources:
[[<chunk_id>]]: <text>

## Data
%s

# Detailed Task Description & Rules
- Do not add information that is not present in the data.
- Prefer the source text over entity and relationship summaries when they disagree, and mention the disagreement.
- Cite the sources you used with their chunk id wrapped in double brackets, e.g. [[3f2a...]]. Never invent ids.
- Refer to entities by their name, never by their key.
- If the data does not answer the question, say so.

# Output Formatting
- Return only the answer, formatted in Markdown.
- Respond in the language of the question.
`

const NoDataPrompt = `
# Task Context
You are a helpful assistant. The user asked a question, but nothing relevant was found in the knowledge graph.

# Background Data
User's question: %s

# Detailed Task Description & Rules
- Explain briefly that the knowledge graph has no information on this.
- Do not invent any information.
- Suggest adding documents that contain the information.

# Output Formatting
- Respond in the same language as the question.
- Keep the response to one or two sentences without markdown.
`
