package model

// An Object represents the index entry of a blob stored in a bucket.
type Object struct {
	Base `json:",inline" storm:"inline"`

	Bucket      string `json:"bucket"       storm:"index"`
	Key         string `json:"key"          storm:"index"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Checksum    string `json:"checksum"`
}
