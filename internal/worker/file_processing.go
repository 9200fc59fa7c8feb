package worker

import (
	"context"

	"github.com/percolation-labs/p8k8/internal/crypto"
	"github.com/percolation-labs/p8k8/internal/domain"
	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

// fileChunkChars bounds each resource row's plaintext length before
// encryption, keeping chunks small enough for REM's trigram/vector indices
// to stay precise.
const fileChunkChars = 2000

// handleFileProcessing implements §4.9's file_processing handler: fetch the
// blob, extract text, chunk it into resources, stamp the file completed.
func (r *Runtime) handleFileProcessing(ctx context.Context, task domain.Task) (domain.JSONMap, error) {
	fileID, _ := task.Payload["file_id"].(string)
	if fileID == "" {
		return nil, perrors.InvalidInput("payload.file_id", "required for file_processing tasks")
	}

	file, err := r.files.Get(ctx, task.TenantID, fileID)
	if err != nil {
		return nil, err
	}

	data, err := r.blob.Get(ctx, file.URI)
	if err != nil {
		return nil, err
	}
	text, err := r.extractor.Extract(ctx, file.MimeType, data)
	if err != nil {
		return nil, err
	}

	mode, err := r.resolveMode(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}

	chunks := chunkText(text, fileChunkChars)
	for i, chunk := range chunks {
		resourceID := domain.NewID()
		encrypted, err := r.envelope.EncryptField(ctx, mode, task.TenantID, resourceID, chunk, false)
		if err != nil {
			return nil, err
		}
		resource := domain.Resource{
			Envelope: domain.Envelope{
				ID:              resourceID,
				TenantID:        task.TenantID,
				UserID:          task.UserID,
				EncryptionLevel: encryptionLevelFor(mode),
			},
			FileID:  fileID,
			Ordinal: i,
			Content: encrypted,
		}
		if _, err := r.resources.Create(ctx, resource); err != nil {
			return nil, err
		}
	}

	parsedEncrypted, err := r.envelope.EncryptField(ctx, mode, task.TenantID, fileID, text, false)
	if err != nil {
		return nil, err
	}
	file.ParsedContent = parsedEncrypted
	file.ProcessingStatus = domain.FileStatusCompleted
	file.EncryptionLevel = encryptionLevelFor(mode)
	if _, err := r.files.Update(ctx, file); err != nil {
		return nil, err
	}

	return domain.JSONMap{"chunks": len(chunks)}, nil
}

// chunkText splits text into runs of at most max runes, breaking on the
// nearest preceding whitespace within the last 10% of the window so chunks
// don't split mid-word.
func chunkText(text string, max int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var out []string
	for start := 0; start < len(runes); {
		end := start + max
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		cut := end
		for i := end; i > end-max/10 && i > start; i-- {
			if runes[i] == ' ' || runes[i] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(runes[start:cut]))
		start = cut
	}
	return out
}

// encryptionLevelFor stamps the row's immutable encryption_level from the
// mode a write actually used, matching internal/chatmemory's mapping.
func encryptionLevelFor(mode crypto.Mode) domain.EncryptionLevel {
	switch mode {
	case crypto.ModePlatform:
		return domain.EncryptionPlatform
	case crypto.ModeClient:
		return domain.EncryptionClient
	case crypto.ModeSealed:
		return domain.EncryptionSealed
	default:
		return domain.EncryptionDisabled
	}
}
