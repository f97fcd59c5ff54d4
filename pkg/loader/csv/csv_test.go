package csv

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/loader"
)

func TestParseCSV(t *testing.T) {
	in := "name,role,note\n" +
		"Scrooge,miser,\"counts coins,\n all day\"\n" +
		",,\n" +
		"Marley,partner\n" +
		"Fezziwig,employer,kind,extra\n"

	got, err := ParseCSV([]byte(in))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	want := "name: Scrooge; role: miser; note: counts coins, all day\n" +
		"name: Marley; role: partner\n" +
		"name: Fezziwig; role: employer; note: kind; column 4: extra\n"
	if string(got) != want {
		t.Fatalf("got\n%s\nwant\n%s", got, want)
	}
}

func TestParseCSVEmpty(t *testing.T) {
	for _, in := range []string{"", "\n\n", "name,role\n", ",,\n,,\n"} {
		if _, err := ParseCSV([]byte(in)); !errors.Is(err, ErrEmptyCSV) {
			t.Fatalf("ParseCSV(%q) = %v, want ErrEmptyCSV", in, err)
		}
	}
}

type rawLoader struct {
	calls int
	body  string
}

func (r *rawLoader) GetFileText(context.Context, loader.GraphFile) ([]byte, error) {
	r.calls++
	return []byte(r.body), nil
}

func TestCSVGraphLoaderCaches(t *testing.T) {
	raw := &rawLoader{body: "name\nScrooge\n"}
	l := NewCSVGraphLoader(raw)
	file := loader.NewGraphFile(loader.NewGraphFileParams{ID: "people", FilePath: "people.csv", Loader: l})

	for range 2 {
		text, err := file.GetText(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if string(text) != "name: Scrooge\n" {
			t.Fatalf("got %q", text)
		}
	}
	if raw.calls != 1 {
		t.Fatalf("raw loader called %d times", raw.calls)
	}
}
