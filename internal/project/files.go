package project

// MergeFiles applies filename-keyed upserts to current and returns a new
// collection. Files present in both keep their position in current and take
// the content from updates; names only in updates are appended in the order
// given. Neither argument is modified.
func MergeFiles(current, updates []TerraformFile) []TerraformFile {
	out := make([]TerraformFile, 0, len(current)+len(updates))
	index := make(map[string]int, len(current)+len(updates))

	for _, f := range current {
		if i, ok := index[f.Filename]; ok {
			out[i] = f
			continue
		}
		index[f.Filename] = len(out)
		out = append(out, f)
	}
	for _, f := range updates {
		if i, ok := index[f.Filename]; ok {
			out[i].Content = f.Content
			continue
		}
		index[f.Filename] = len(out)
		out = append(out, f)
	}
	return out
}

// CloneFiles returns a copy of files that never aliases the input.
func CloneFiles(files []TerraformFile) []TerraformFile {
	out := make([]TerraformFile, len(files))
	copy(out, files)
	return out
}

// FindFile returns the file with the given name.
func FindFile(files []TerraformFile, name string) (TerraformFile, bool) {
	for _, f := range files {
		if f.Filename == name {
			return f, true
		}
	}
	return TerraformFile{}, false
}

// Filenames returns the names in collection order.
func Filenames(files []TerraformFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return names
}
