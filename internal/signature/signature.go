// Package signature derives the coarse content hash used for fast exact-duplicate lookup.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"horse.fit/flashpoint/internal/model"
)

const fieldDelimiter = "|"

// Fields are the inputs of a signature. Empty fields are left out of the hash input.
type Fields struct {
	Title   string
	Country string
	City    string
	Region  string
	At      time.Time
}

// Of returns the lowercase hex SHA-256 of the normalized fields. Records with the same normalized
// title and location on the same UTC day collide.
func Of(f Fields) string {
	parts := make([]string, 0, 5)
	appendField := func(name, value string) {
		normalized := normalize(value)
		if normalized == "" {
			return
		}
		parts = append(parts, name+"="+normalized)
	}

	appendField("title", f.Title)
	appendField("country", f.Country)
	appendField("city", f.City)
	appendField("region", f.Region)
	if !f.At.IsZero() {
		parts = append(parts, "day="+f.At.UTC().Format(time.DateOnly))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, fieldDelimiter)))
	return hex.EncodeToString(sum[:])
}

func ForArticle(a model.Article) string {
	return Of(Fields{
		Title:   a.Title,
		Country: a.Country,
		City:    a.City,
		Region:  a.Region,
		At:      a.PublishedAt,
	})
}

// normalize lower-cases, trims and collapses inner whitespace.
func normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
