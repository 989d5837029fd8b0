package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/updatefleet/firmware-registry/pkg/catalog"
)

const uploadLogPrefix = "publish:upload"

// MaxFilesPerRequest caps the number of put actions in one payload.
const MaxFilesPerRequest = 500

// Sender delivers one payload to the registry and returns its result.
type Sender func(ctx context.Context, payload Payload) (*Result, error)

// BuildPayloads splits the files of one catalog into publication payloads
// under the given version token: a create, then put batches, then a final
// enable payload.
func BuildPayloads(version string, files []catalog.SourceFile) []Payload {
	var payloads []Payload

	actions := []Action{{Task: TaskCreate}}
	for _, f := range files {
		if len(actions) == MaxFilesPerRequest {
			payloads = append(payloads, Payload{Version: version, Actions: actions})
			actions = nil
		}
		actions = append(actions, Action{Task: TaskPut, Filename: f.Name, Data: string(f.Data)})
	}
	if len(actions) > 0 {
		payloads = append(payloads, Payload{Version: version, Actions: actions})
	}

	payloads = append(payloads, Payload{Version: version, Actions: []Action{{Task: TaskEnable}}})
	return payloads
}

// Upload validates all files, derives the content token and sends the
// publication. It returns the token of the published catalog. When the token
// already names the active version, the registry skips the publication and
// Upload stops after the first payload.
func Upload(ctx context.Context, files []catalog.SourceFile, send Sender) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("%s - no catalog files to upload", uploadLogPrefix)
	}

	if _, fileErrors := catalog.ValidateAll(files); len(fileErrors) > 0 {
		msgs := make([]string, len(fileErrors))
		for i, fe := range fileErrors {
			msgs[i] = fe.Error()
		}
		return "", fmt.Errorf("%s - validation failed:\n%s", uploadLogPrefix, strings.Join(msgs, "\n"))
	}

	version := catalog.ComputeToken(files)
	payloads := BuildPayloads(version, files)

	sent := 0
	for i, payload := range payloads {
		slog.Info(fmt.Sprintf("%s - Sending payload %d/%d for version %s", uploadLogPrefix, i+1, len(payloads), version))
		result, err := send(ctx, payload)
		if err != nil {
			return "", fmt.Errorf("%s - payload %d/%d failed: %w", uploadLogPrefix, i+1, len(payloads), err)
		}
		if result != nil && result.Skipped {
			slog.Info(fmt.Sprintf("%s - Version %s is already active, nothing to do", uploadLogPrefix, version))
			return version, nil
		}
		sent++
	}

	slog.Info(fmt.Sprintf("%s - Published catalog version %s in %d payloads", uploadLogPrefix, version, sent))
	return version, nil
}
