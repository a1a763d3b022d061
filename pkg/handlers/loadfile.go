package handlers

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/middleware"
	"github.com/aretw0/arbor/pkg/ports"
)

type loadFileRequest struct {
	ID       string `mapstructure:"id"`
	Session  string `mapstructure:"session"`
	File     string `mapstructure:"file"`
	FileName string `mapstructure:"file-name"`
	FilePath string `mapstructure:"file-path"`
}

// LoadFile services the "load-file" op by synthesizing an eval request from
// the file contents. It requires the eval capability to be ordered before it.
type LoadFile struct {
	eval *Eval
}

// NewLoadFile creates the load-file handler on top of the eval handler.
func NewLoadFile(eval *Eval) *LoadFile {
	return &LoadFile{eval: eval}
}

// Descriptor declares the load-file capability.
func (h *LoadFile) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name: "load-file",
		Handles: map[string]string{
			"load-file": "Evaluate the full contents of a file. Requires :file (the contents) and :session; optional :file-name, :file-path.",
		},
		Requires: []string{"eval"},
		Handler:  h,
	}
}

// Handle translates the request into an eval submission.
func (h *LoadFile) Handle(ctx context.Context, msg domain.Message, t ports.Transport) error {
	var req loadFileRequest
	if err := decode(msg, &req); err != nil {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusMalformed),
		}))
	}
	if req.File == "" {
		return t.Send(msg.Reply(domain.Message{
			domain.FieldStatus: domain.DoneStatus(domain.StatusError, domain.StatusNoFile),
		}))
	}

	path := req.FilePath
	if path == "" {
		path = req.FileName
	}

	// The engine reads the payload from the message, so rewrite the file
	// contents into a regular eval message before delegating.
	derived := make(domain.Message, len(msg)+3)
	for k, v := range msg {
		derived[k] = v
	}
	derived[domain.FieldCode] = req.File
	derived[domain.FieldFile] = path
	derived[domain.FieldLine] = 1

	return h.eval.submit(derived, evalRequest{
		ID:      req.ID,
		Session: req.Session,
		Code:    req.File,
		File:    path,
		Line:    1,
	}, t)
}
