package db

type StateRecord struct {
	Profile   string `json:"profile"`
	Version   int    `json:"version"`
	Blob      []byte `json:"blob"`
	UpdatedAt int64  `json:"updated_at"`
}
