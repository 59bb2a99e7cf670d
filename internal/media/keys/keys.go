package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"musicaltracker/api/internal/media"
)

// randomBytes gives 10 hex characters of suffix.
const randomBytes = 5

const fallbackCategory = "uploads"

// categories maps a class to the owner kinds it is filed under and the
// top-level prefix used for them.
var categories = map[media.Class]struct {
	prefix string
	owners map[string]struct{}
}{
	media.ClassPoster: {
		prefix: "posters",
		owners: set("musical", "theater", "performance"),
	},
	media.ClassProfile: {
		prefix: "users",
		owners: set("user"),
	},
	media.ClassThumbnail: {
		prefix: "thumbnails",
		owners: set("actor", "musical", "theater", "performance"),
	},
}

type Deriver struct {
	now  func() time.Time
	rand io.Reader
}

func NewDeriver() *Deriver {
	return &Deriver{now: time.Now, rand: rand.Reader}
}

// NewDeriverWith is used by tests to pin the clock and the random source.
func NewDeriverWith(now func() time.Time, random io.Reader) *Deriver {
	return &Deriver{now: now, rand: random}
}

// DeriveKey builds {category}/{ownerKind}/{ownerID}/{class}-{millis}-{random}.{ext}.
// Unmapped class/owner pairs land under uploads/; this never fails.
func (d *Deriver) DeriveKey(class media.Class, ownerKind, ownerID, ext string) string {
	kind := strings.ToLower(segment(ownerKind))
	category := fallbackCategory
	if c, ok := categories[class]; ok {
		if _, ok := c.owners[kind]; ok {
			category = c.prefix
		}
	}

	ext = segment(strings.TrimPrefix(ext, "."))
	name := fmt.Sprintf("%s-%d-%s.%s", segment(string(class)), d.now().UTC().UnixMilli(), d.suffix(), ext)
	return strings.Join([]string{category, kind, segment(ownerID), name}, "/")
}

func (d *Deriver) suffix() string {
	buf := make([]byte, randomBytes)
	if _, err := io.ReadFull(d.rand, buf); err != nil {
		// fall back to clock bits
		return fmt.Sprintf("%010x", d.now().UnixNano()&0xffffffffff)
	}
	return hex.EncodeToString(buf)
}

// segment keeps [A-Za-z0-9_-] so owner-supplied values cannot escape their prefix.
func segment(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}
