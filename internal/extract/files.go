package extract

// Files is an ordered mapping from relative path to file content. Keys are
// unique and keep the order in which they were first written.
type Files struct {
	order []string
	data  map[string]string
}

// NewFiles returns an empty file set.
func NewFiles() *Files {
	return &Files{data: make(map[string]string)}
}

// Set stores content under path. An existing path keeps its position.
func (f *Files) Set(path, content string) {
	if f.data == nil {
		f.data = make(map[string]string)
	}
	if _, ok := f.data[path]; !ok {
		f.order = append(f.order, path)
	}
	f.data[path] = content
}

// Get returns the content stored for path.
func (f *Files) Get(path string) (string, bool) {
	if f == nil {
		return "", false
	}
	content, ok := f.data[path]
	return content, ok
}

// Keys returns the paths in first-write order.
func (f *Files) Keys() []string {
	if f == nil {
		return nil
	}
	keys := make([]string, len(f.order))
	copy(keys, f.order)
	return keys
}

// Len returns the number of files.
func (f *Files) Len() int {
	if f == nil {
		return 0
	}
	return len(f.order)
}

// Merge copies every entry of other into f. Entries in other replace
// entries of f with the same path.
func (f *Files) Merge(other *Files) {
	if other == nil {
		return
	}
	for _, path := range other.order {
		f.Set(path, other.data[path])
	}
}

// Each calls fn for every file in order.
func (f *Files) Each(fn func(path, content string)) {
	if f == nil {
		return
	}
	for _, path := range f.order {
		fn(path, f.data[path])
	}
}
