package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Store loads and saves the whole patient collection as one document. None of
// the implementations lock: concurrent writers may overwrite each other.
type Store interface {
	Load(ctx context.Context) (Collection, error)
	Save(ctx context.Context, c Collection) error
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

func decodeCollection(data []byte) (Collection, error) {
	c := Collection{}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", ErrStorage, err)
	}
	if c == nil {
		c = Collection{}
	}
	// Older documents spell gender and verdict in mixed case ("Female",
	// "Normal"); fold them to the canonical lowercase values.
	for id, r := range c {
		r.Gender = normalizeGender(r.Gender)
		r.Verdict = Verdict(strings.ToLower(strings.TrimSpace(string(r.Verdict))))
		c[id] = r
	}
	return c, nil
}

func encodeCollection(c Collection) ([]byte, error) {
	if c == nil {
		c = Collection{}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encode document: %v", ErrStorage, err)
	}
	return data, nil
}
