// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/pkg/errors"
)

// FileSource describes a file to upload. Open is called once per attempt,
// so an upload replayed after a token refresh reads the file again.
type FileSource struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// ProgressFunc receives the number of bytes sent out of total.
type ProgressFunc func(sent, total int64)

// ListFiles returns the documents held by the backend.
func (c *Client) ListFiles(ctx context.Context) (Result[[]Document], error) {
	return call[[]Document](ctx, c, request{
		method: http.MethodGet,
		path:   "/api/files",
		auth:   true,
	}, "failed to list files")
}

// DeleteFile removes a document.
func (c *Client) DeleteFile(ctx context.Context, id string) (Result[MessageData], error) {
	return call[MessageData](ctx, c, request{
		method: http.MethodDelete,
		path:   "/api/files/" + url.PathEscape(id),
		auth:   true,
	}, "failed to delete file")
}

// UploadFile streams src to the backend as multipart field "file".
// Cancelling ctx aborts the transfer.
func (c *Client) UploadFile(ctx context.Context, src FileSource, progress ProgressFunc) (Result[Document], error) {
	if src.Open == nil {
		return Result[Document]{}, errors.New("upload source has no opener")
	}
	return call[Document](ctx, c, request{
		method:    http.MethodPost,
		path:      "/api/files/upload",
		auth:      true,
		noTimeout: true,
		body: func() (io.Reader, string, error) {
			return multipartBody(src, progress)
		},
	}, "upload failed")
}

// multipartBody pipes the encoded form so the file is never buffered whole.
func multipartBody(src FileSource, progress ProgressFunc) (io.Reader, string, error) {
	file, err := src.Open()
	if err != nil {
		return nil, "", errors.Wrapf(err, "open %s", src.Name)
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		defer file.Close()

		part, err := form.CreateFormFile("file", src.Name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		counted := &countingReader{r: file, total: src.Size, progress: progress}
		if _, err := io.Copy(part, counted); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	return pr, form.FormDataContentType(), nil
}

type countingReader struct {
	r        io.Reader
	sent     atomic.Int64
	total    int64
	progress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 && c.progress != nil {
		c.progress(c.sent.Add(int64(n)), c.total)
	}
	return n, err
}
