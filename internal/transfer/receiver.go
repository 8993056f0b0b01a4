package transfer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"fluxhub/internal/transport"
)

// ReceiverOptions configures a Receiver; zero values fall back to the
// package defaults.
type ReceiverOptions struct {
	NumChannels int
	OnProgress  func(Progress)
}

// Receiver drives the idle -> receiving -> verifying -> done state
// machine over a transport.Channels, reassembling chunks in memory and
// persisting the verified payload to a scratch file on success.
type Receiver struct {
	channels   transport.Channels
	scratchDir string
	numChans   int
	onProgress func(Progress)
}

// NewReceiver builds a Receiver that persists the verified payload under
// scratchDir once a transfer completes successfully.
func NewReceiver(channels transport.Channels, scratchDir string, opts ReceiverOptions) *Receiver {
	numChans := opts.NumChannels
	if numChans <= 0 {
		numChans = DefaultChannels
	}
	return &Receiver{
		channels:   channels,
		scratchDir: scratchDir,
		numChans:   numChans,
		onProgress: opts.OnProgress,
	}
}

// Run blocks until the transfer reaches a terminal state: success (the
// reassembled file is persisted under scratchDir), failure (missing
// chunk or checksum mismatch), or cancellation.
func (r *Receiver) Run(ctx context.Context) (Result, string, error) {
	if err := r.channels.OpenChannels(ctx, r.numChans, "transfer"); err != nil {
		return Result{}, "", fmt.Errorf("open channels: %w", err)
	}

	ctrl := newControlListener(r.channels, "")
	defer ctrl.stop()

	if err := ctrl.awaitChannelsOpen(ctx, r.numChans); err != nil {
		return Result{}, "", err
	}

	var meta FileMetadata
	select {
	case meta = <-ctrl.metadata:
	case <-ctrl.cancelled:
		return Result{Cancelled: true}, "", nil
	case <-ctx.Done():
		return Result{}, "", ctx.Err()
	}

	ackFrame := EncodeString(FrameAck, meta.TransferID)
	if ok, err := r.channels.Send(controlChannel, ackFrame); err != nil || !ok {
		return Result{}, "", fmt.Errorf("send ack: %w", err)
	}

	chunkSize := meta.ChunkSize
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	chunkCount := chunkCountFor(int(meta.Size), chunkSize)

	chunks := make(map[uint32][]byte, chunkCount)
	var received int64

	for {
		select {
		case c := <-ctrl.chunk:
			if _, exists := chunks[c.index]; !exists {
				chunks[c.index] = c.payload
				received += int64(len(c.payload))
				if r.onProgress != nil {
					r.onProgress(Progress{BytesTransferred: received, TotalBytes: meta.Size})
				}
			}

		case checksum := <-ctrl.complete:
			return r.finish(meta, chunks, chunkCount, checksum)

		case <-ctrl.cancelled:
			return Result{Cancelled: true}, meta.TransferID, nil

		case <-ctx.Done():
			return Result{}, meta.TransferID, ctx.Err()
		}
	}
}

func (r *Receiver) finish(meta FileMetadata, chunks map[uint32][]byte, chunkCount int, expectedChecksum string) (Result, string, error) {
	for k := 0; k < chunkCount; k++ {
		if _, ok := chunks[uint32(k)]; !ok {
			reason := fmt.Sprintf("Missing chunk %d", k)
			r.sendFailed(reason)
			return Result{Success: false, Reason: reason}, meta.TransferID, nil
		}
	}

	var buf bytes.Buffer
	for k := 0; k < chunkCount; k++ {
		buf.Write(chunks[uint32(k)])
	}
	payload := buf.Bytes()

	actual := sha256Hex(payload)
	if !strings.EqualFold(actual, expectedChecksum) {
		r.sendFailed("Checksum mismatch")
		return Result{Success: false, Reason: "Checksum mismatch"}, meta.TransferID, nil
	}

	path, err := persistScratch(r.scratchDir, meta.TransferID, payload)
	if err != nil {
		r.sendFailed("Internal error")
		return Result{}, meta.TransferID, fmt.Errorf("persist scratch file: %w", err)
	}
	slog.Info("transfer verified and persisted", "transfer_id", meta.TransferID, "path", path, "size", len(payload))

	successFrame := EncodeString(FrameSuccess, meta.TransferID)
	_, _ = r.channels.Send(controlChannel, successFrame)
	return Result{Success: true}, meta.TransferID, nil
}

func (r *Receiver) sendFailed(reason string) {
	frame := EncodeString(FrameFailed, reason)
	_, _ = r.channels.Send(controlChannel, frame)
}

// persistScratch writes data to a temp file under dir and atomically
// renames it into place as transferID, so a crash mid-write never leaves
// a partially-written file visible under its final name.
func persistScratch(dir, transferID string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "scratch-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	finalPath := filepath.Join(dir, safeFileName(transferID))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename into place: %w", err)
	}
	return finalPath, nil
}

func safeFileName(id string) string {
	if id == "" {
		return "transfer"
	}
	return filepath.Base(id)
}
