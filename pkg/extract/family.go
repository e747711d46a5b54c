package extract

import (
	"regexp"
	"strings"
)

// Family is the extraction strategy for an object.
type Family int

const (
	Unsupported Family = iota
	Text
	Notebook
	Columnar
)

func (f Family) String() string {
	switch f {
	case Text:
		return "text"
	case Notebook:
		return "notebook"
	case Columnar:
		return "columnar"
	default:
		return "unsupported"
	}
}

// Compression is the transport compression wrapped around the content.
type Compression int

const (
	None Compression = iota
	Gzip
)

// DefaultExtensions maps the suffixes indexed out of the box.
var DefaultExtensions = map[string]Family{
	".csv":     Text,
	".htm":     Text,
	".html":    Text,
	".json":    Text,
	".md":      Text,
	".rmd":     Text,
	".rst":     Text,
	".tab":     Text,
	".tsv":     Text,
	".txt":     Text,
	".ipynb":   Notebook,
	".parquet": Columnar,
}

var (
	// Hive/Spark partition outputs (part-00000-...c000) are parquet
	// without a parquet suffix.
	partitionExt = regexp.MustCompile(`^\.c\d{3,5}$`)
	partitionKey = regexp.MustCompile(`-c\d{3,5}$`)
)

// Table resolves extensions to families.
type Table map[string]Family

// Resolve determines the family and compression of an object from its
// key and its lower-cased two-level extension.
func (t Table) Resolve(key, ext string) (Family, Compression) {
	ext = strings.ToLower(ext)
	comp := None
	if strings.HasSuffix(ext, ".gz") {
		comp = Gzip
		ext = strings.TrimSuffix(ext, ".gz")
		if n := len(key) - len(".gz"); n >= 0 && strings.EqualFold(key[n:], ".gz") {
			key = key[:n]
		}
	}

	// Only the innermost suffix selects the family.
	if i := strings.LastIndex(ext, "."); i > 0 {
		ext = ext[i:]
	}

	if partitionExt.MatchString(ext) || partitionKey.MatchString(key) {
		return Columnar, comp
	}

	if fam, ok := t[ext]; ok {
		return fam, comp
	}
	return Unsupported, comp
}

// Resolve uses DefaultExtensions.
func Resolve(key, ext string) (Family, Compression) {
	return Table(DefaultExtensions).Resolve(key, ext)
}
