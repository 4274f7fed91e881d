package source

// Scheme names the transport a source is fetched with.
type Scheme string

const (
	HTTP Scheme = "http"
	FTP  Scheme = "ftp"
	Git  Scheme = "git"
	File Scheme = "file"
)

// Source is a resolved source descriptor. It is one of *ArchiveSource,
// *GitSource or *FileSource.
type Source interface {
	Scheme() Scheme
	// Describe returns the location fields shared by every scheme.
	Describe() Location
}

// Location is where a declared source comes from and where it is cached.
type Location struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	File string `json:"file"`
	Name string `json:"name"`
	Ext  string `json:"ext"`

	LocalPrefix string `json:"localPrefix"` // search path root chosen as the cache
	Local       string `json:"local"`       // absolute cache path
}

// ArchiveSource is a file transferred over http(s) or ftp.
type ArchiveSource struct {
	Location
	Kind Scheme `json:"scheme"`
	// Compressed is the decompression command template for the archive,
	// empty when the extension is not a known compression.
	Compressed string `json:"compressed,omitempty"`
}

// GitSource is a git repository synced into a working copy.
type GitSource struct {
	Location
	Repo    string `json:"repo"` // clone URL, the declared URL before the first '?'
	Args    []Arg  `json:"args,omitempty"`
	Symlink string `json:"symlink"`
}

// FileSource is a local file or directory referenced in place.
type FileSource struct {
	Location
	Symlink string `json:"symlink"`
}

// Arg is one key[=value] action token of a git source URL.
type Arg struct {
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"-"`
}

func (a Arg) String() string {
	if a.HasValue {
		return a.Key + "=" + a.Value
	}
	return a.Key
}

var (
	_ Source = &ArchiveSource{}
	_ Source = &GitSource{}
	_ Source = &FileSource{}
)

func (s *ArchiveSource) Scheme() Scheme     { return s.Kind }
func (s *ArchiveSource) Describe() Location { return s.Location }

func (s *GitSource) Scheme() Scheme     { return Git }
func (s *GitSource) Describe() Location { return s.Location }

func (s *FileSource) Scheme() Scheme     { return File }
func (s *FileSource) Describe() Location { return s.Location }
