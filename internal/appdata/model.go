package appdata

// Blob is the single versioned app-data document owned by a user. Revision
// starts at 0 and advances by exactly 1 on every accepted write; writes are
// guarded by compare-and-swap against the caller's base revision.
type Blob struct {
	OwnerID               string `gorm:"column:owner_id;primaryKey;size:190;not null"`
	SchemaVersion         int64  `gorm:"column:schema_version;not null;default:0"`
	Revision              int64  `gorm:"column:revision;not null;default:0"`
	DocumentJSON          string `gorm:"column:document_json;type:text;not null"`
	LastWriterDevice      string `gorm:"column:last_writer_device;size:190;not null;default:''"`
	LastWriteClientTimeMs int64  `gorm:"column:last_write_client_time_ms;not null;default:0"`
	CreatedAtSeconds      int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds      int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Blob) TableName() string {
	return "app_data_blobs"
}

// Document decodes the stored payload into a Document tree.
func (b Blob) Document() (Document, error) {
	return ParseObject([]byte(b.DocumentJSON))
}

// Provenance carries optional per-write metadata supplied by the syncing
// device. Stored verbatim, never validated.
type Provenance struct {
	DeviceID     string
	ClientTimeMs int64
}
