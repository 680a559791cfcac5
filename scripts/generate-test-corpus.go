//go:build ignore

// Package main generates a synthetic legal passage corpus for load testing.
// Usage: go run scripts/generate-test-corpus.go -passages 5000 -output testdata/corpus.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

var (
	numPassages = flag.Int("passages", 5000, "Number of passages to generate")
	outputPath  = flag.String("output", "testdata/corpus.jsonl", "Output JSONL file")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
)

type record struct {
	ID        string `json:"id"`
	DocID     string `json:"doc_id"`
	Title     string `json:"title"`
	Section   string `json:"section"`
	SourceURL string `json:"source_url"`
	Text      string `json:"text"`
}

var acts = []string{
	"Data Protection Act", "Consumer Rights Act", "Employment Standards Act",
	"Contract Law Reform Act", "Privacy Act", "Fair Trading Act",
	"Electronic Transactions Act", "Limitation Act",
}

var subjects = []string{
	"the data subject", "the controller", "the consumer", "the employer",
	"the employee", "the supplier", "the contracting party", "the processor",
}

var obligations = []string{
	"shall erase personal data without undue delay upon a valid request",
	"must provide written notice no later than thirty days before termination",
	"is liable for damages arising from a material breach of this section",
	"may withhold consent only on reasonable grounds stated in writing",
	"shall retain records for a period of not less than six years",
	"must disclose the categories of data processed and their recipients",
	"is entitled to a refund where the goods fail to conform to the contract",
	"shall implement appropriate technical and organisational measures",
}

var conditions = []string{
	"unless a statutory retention obligation provides otherwise",
	"except where the processing is necessary for a legal claim",
	"subject to the limitation period set out in section 4",
	"provided the request is made in the prescribed form",
	"save where both parties have agreed otherwise in writing",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(filepath.Dir(*outputPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	for i := 0; i < *numPassages; i++ {
		act := acts[rng.Intn(len(acts))]
		article := rng.Intn(40) + 1
		para := rng.Intn(6) + 1

		text := fmt.Sprintf("%s %s, %s. Any derogation from this provision is void to the extent of the inconsistency.",
			title(subjects[rng.Intn(len(subjects))]),
			obligations[rng.Intn(len(obligations))],
			conditions[rng.Intn(len(conditions))])

		rec := record{
			ID:        fmt.Sprintf("%s-art%d-p%d-%d", slug(act), article, para, i),
			DocID:     slug(act),
			Title:     act,
			Section:   fmt.Sprintf("Art. %d(%d)", article, para),
			SourceURL: fmt.Sprintf("https://laws.example.org/%s#art%d", slug(act), article),
			Text:      text,
		}
		if err := enc.Encode(rec); err != nil {
			fmt.Fprintf(os.Stderr, "encode record: %v\n", err)
			os.Exit(1)
		}
	}

	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "flush output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d passages to %s\n", *numPassages, *outputPath)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func slug(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c-'A'+'a')
		case c >= 'a' && c <= 'z':
			out = append(out, c)
		case c == ' ':
			out = append(out, '-')
		}
	}
	return string(out)
}
