package domain

// InputField is one key/value parameter entered by the user.
// Insertion order is meaningful; names are not guaranteed to be unique.
type InputField struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Valid reports whether both the name and the value are non-empty.
func (f InputField) Valid() bool {
	return f.Field != "" && f.Value != ""
}

// UploadedFile is the metadata of a file selected by the user.
// File content is never transmitted.
type UploadedFile struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name" binding:"required"`
	Size      int64  `json:"size" binding:"gte=0"`
	Extension string `json:"extension"`
}

// JobSubmission is the payload accepted by POST /api/jobs/run.
type JobSubmission struct {
	InputFields   []InputField   `json:"inputFields"`
	UploadedFiles []UploadedFile `json:"uploadedFiles" binding:"dive"`
}

// ValidParameters counts the fields that carry both a name and a value.
func (s JobSubmission) ValidParameters() int {
	n := 0
	for _, f := range s.InputFields {
		if f.Valid() {
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no slices with s.
// Nil slices become empty so the record always encodes as JSON arrays.
func (s JobSubmission) Clone() JobSubmission {
	out := JobSubmission{
		InputFields:   make([]InputField, len(s.InputFields)),
		UploadedFiles: make([]UploadedFile, len(s.UploadedFiles)),
	}
	copy(out.InputFields, s.InputFields)
	copy(out.UploadedFiles, s.UploadedFiles)
	return out
}
