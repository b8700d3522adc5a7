package annotation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Corpus is the full input collection plus an id index.
type Corpus struct {
	Records []ConversationRecord
	byID    map[string]int
}

// NewCorpus indexes records by id. When ids repeat, the later record wins the lookup.
func NewCorpus(records []ConversationRecord) *Corpus {
	c := &Corpus{Records: records, byID: make(map[string]int, len(records))}
	for i, r := range records {
		c.byID[r.ID] = i
	}
	return c
}

func (c *Corpus) Len() int { return len(c.Records) }

// Lookup returns the record with the given id.
func (c *Corpus) Lookup(id string) (ConversationRecord, bool) {
	i, ok := c.byID[id]
	if !ok {
		return ConversationRecord{}, false
	}
	return c.Records[i], true
}

// LoadCorpus reads the conversation log at path.
//
// A .jsonl file holds one record per line. Anything else is a JSON document that is either
// - a top-level array: [ {record}, ... ]
// - a top-level object with an array field (arrayField, or the first array-valued field when empty)
//
// JSON documents are decoded as a token stream so the raw document is never buffered whole.
func LoadCorpus(ctx context.Context, path string, arrayField string) (*Corpus, error) {
	if ctx == nil {
		return nil, errors.New("LoadCorpus: ctx is nil")
	}
	if path == "" {
		return nil, errors.New("LoadCorpus: path is empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadCorpus: open input: %w", err)
	}
	defer f.Close()

	var records []ConversationRecord
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		records, err = readRecordLines(ctx, f)
	} else {
		records, err = readRecordDocument(ctx, f, arrayField)
	}
	if err != nil {
		return nil, fmt.Errorf("LoadCorpus: %w", err)
	}
	return NewCorpus(records), nil
}

func readRecordLines(ctx context.Context, r io.Reader) ([]ConversationRecord, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), 64<<20)

	var out []ConversationRecord
	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := decodeRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return out, nil
}

func readRecordDocument(ctx context.Context, r io.Reader, arrayField string) ([]ConversationRecord, error) {
	// Exports are often one huge line; use a larger buffer than default.
	dec := json.NewDecoder(bufio.NewReaderSize(r, 1<<20))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read first token: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("expected JSON array/object, got %T", tok)
	}

	switch delim {
	case '[':
		records, err := readArrayFromOpen(ctx, dec)
		if err != nil {
			return nil, err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return nil, err
		}
		return records, nil
	case '{':
		var records []ConversationRecord
		found := false
		for dec.More() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read object key: %w", err)
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("expected string key, got %T", keyTok)
			}
			valTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("read value token for key %q: %w", key, err)
			}

			isTarget := !found && arrayField != "" && key == arrayField
			if !isTarget && !found && arrayField == "" {
				if d, ok := valTok.(json.Delim); ok && d == '[' {
					isTarget = true
				}
			}
			if !isTarget {
				if err := skipValue(dec, valTok); err != nil {
					return nil, fmt.Errorf("skip key %q value: %w", key, err)
				}
				continue
			}

			if d, ok := valTok.(json.Delim); !ok || d != '[' {
				return nil, fmt.Errorf("key %q was chosen as array but value isn't an array", key)
			}
			found = true
			records, err = readArrayFromOpen(ctx, dec)
			if err != nil {
				return nil, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return nil, err
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		if !found {
			return nil, errors.New("no records array found in top-level object")
		}
		return records, nil
	default:
		return nil, fmt.Errorf("unsupported top-level delimiter %q", delim)
	}
}

func readArrayFromOpen(ctx context.Context, dec *json.Decoder) ([]ConversationRecord, error) {
	var out []ConversationRecord
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out), err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

type rawRecord struct {
	ID            json.RawMessage `json:"id"`
	Conversations []Utterance     `json:"conversations"`
}

// decodeRecord accepts string or numeric ids; numeric ids keep their literal text.
func decodeRecord(raw []byte) (ConversationRecord, error) {
	var rr rawRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return ConversationRecord{}, fmt.Errorf("unmarshal record: %w", err)
	}

	idRaw := bytes.TrimSpace(rr.ID)
	var id string
	switch {
	case len(idRaw) == 0 || bytes.Equal(idRaw, []byte("null")):
	case idRaw[0] == '"':
		if err := json.Unmarshal(idRaw, &id); err != nil {
			return ConversationRecord{}, fmt.Errorf("unmarshal id: %w", err)
		}
	default:
		id = string(idRaw)
	}
	if id == "" {
		return ConversationRecord{}, errors.New("record missing id")
	}
	return ConversationRecord{ID: id, Conversations: rr.Conversations}, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read closing %q: %w", want, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected closing %q, got %v", want, tok)
	}
	return nil
}

func skipValue(dec *json.Decoder, first json.Token) error {
	d, ok := first.(json.Delim)
	if !ok {
		// Primitive (string/number/bool/null): already fully consumed.
		return nil
	}
	if d != '{' && d != '[' {
		return fmt.Errorf("skipValue: unexpected delimiter %q", d)
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if dd, ok := tok.(json.Delim); ok {
			switch dd {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
