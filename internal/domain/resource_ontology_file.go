package domain

// Resource is an ordered chunk belonging to a file.
type Resource struct {
	Envelope
	FileID   string `json:"file_id" db:"file_id"`
	Ordinal  int    `json:"ordinal" db:"ordinal"`
	Category string `json:"category,omitempty" db:"category"`
	Content  string `json:"content,omitempty" db:"content"` // encrypted
}

// Ontology is a wiki-style entity with link edges to other ontologies.
type Ontology struct {
	Envelope
	Name          string         `json:"name" db:"name"`
	URI           string         `json:"uri,omitempty" db:"uri"`
	Content       string         `json:"content,omitempty" db:"content"` // encrypted
	ExtractedData JSONMap `json:"extracted_data,omitempty" db:"extracted_data"`
}

// FileProcessingStatus enumerates the lifecycle of an uploaded file.
type FileProcessingStatus string

const (
	FileStatusPending    FileProcessingStatus = "pending"
	FileStatusProcessing FileProcessingStatus = "processing"
	FileStatusCompleted  FileProcessingStatus = "completed"
	FileStatusFailed     FileProcessingStatus = "failed"
)

// File is a raw upload plus its parsed output.
type File struct {
	Envelope
	URI              string               `json:"uri" db:"uri"`
	Name             string                `json:"name,omitempty" db:"name"`
	MimeType         string               `json:"mime_type,omitempty" db:"mime_type"`
	SizeBytes        int64                `json:"size_bytes,omitempty" db:"size_bytes"`
	ProcessingStatus FileProcessingStatus `json:"processing_status" db:"processing_status"`
	ParsedContent    string               `json:"parsed_content,omitempty" db:"parsed_content"` // encrypted
	Error            string               `json:"error,omitempty" db:"error"`
}

// Tool is a remote tool registered for agent invocation.
type Tool struct {
	Envelope
	Name         string         `json:"name" db:"name"`
	ServerID     string         `json:"server_id,omitempty" db:"server_id"`
	Description  string         `json:"description,omitempty" db:"description"`
	InputSchema  JSONMap `json:"input_schema,omitempty" db:"input_schema"`
	OutputSchema JSONMap `json:"output_schema,omitempty" db:"output_schema"`
}

// Server is a remote tool-hosting endpoint.
type Server struct {
	Envelope
	Name    string `json:"name" db:"name"`
	BaseURL string `json:"base_url" db:"base_url"`
}
