package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"fluxhub/internal/transport"

	"github.com/dustin/go-humanize"
)

// ChunkSize is the fixed payload size of a FILE_CHUNK frame, save for
// the final chunk of a file whose length isn't an exact multiple of it.
const ChunkSize = 64 * 1024

// DefaultChannels is the recommended channel fan-out for chunk dispatch.
const DefaultChannels = 4

// HighWatermark pauses chunk dispatch once aggregate buffered bytes
// across all channels exceeds it.
const HighWatermark = 16 * 1024 * 1024

// LowWatermark resumes chunk dispatch once aggregate buffered bytes
// drops back below it.
const LowWatermark = 4 * 1024 * 1024

const controlChannel = 0

// Progress is one snapshot of transfer advancement, reported to the
// consumer after each chunk dispatch (sender) or chunk receipt
// (receiver). Reports are monotone non-decreasing in BytesTransferred.
type Progress struct {
	BytesTransferred int64
	TotalBytes       int64
	SpeedBps         float64
}

// Result is the terminal outcome of a transfer.
type Result struct {
	Success   bool
	Cancelled bool
	Reason    string
}

// SenderOptions configures a Sender; zero values fall back to the
// package defaults.
type SenderOptions struct {
	ChunkSize   int
	NumChannels int
	OnProgress  func(Progress)
}

// Sender drives the idle -> sendingMetadata -> (await ACK) ->
// sending(chunks) -> sentComplete -> (await SUCCESS|FAILED) -> done
// state machine over a transport.Channels.
type Sender struct {
	channels   transport.Channels
	transferID string
	fileName   string
	data       []byte
	chunkSize  int
	numChans   int
	onProgress func(Progress)

	cancel chan struct{}
}

// NewSender builds a Sender for data, to be sent as fileName under
// transferID.
func NewSender(channels transport.Channels, transferID, fileName string, data []byte, opts SenderOptions) *Sender {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	numChans := opts.NumChannels
	if numChans <= 0 {
		numChans = DefaultChannels
	}
	return &Sender{
		channels:   channels,
		transferID: transferID,
		fileName:   fileName,
		data:       data,
		chunkSize:  chunkSize,
		numChans:   numChans,
		onProgress: opts.OnProgress,
		cancel:     make(chan struct{}),
	}
}

// Cancel requests a local cancellation; Run returns a Result with
// Cancelled set once the in-flight send loop observes it.
func (s *Sender) Cancel() {
	select {
	case <-s.cancel:
	default:
		close(s.cancel)
	}
}

// Run executes the full sender state machine and blocks until the
// transfer reaches a terminal state or ctx is cancelled.
func (s *Sender) Run(ctx context.Context) (Result, error) {
	checksum := sha256Hex(s.data)

	if err := s.channels.OpenChannels(ctx, s.numChans, "transfer-"+s.transferID); err != nil {
		return Result{}, fmt.Errorf("open channels: %w", err)
	}

	ctrl := newControlListener(s.channels, s.transferID)
	defer ctrl.stop()

	if err := ctrl.awaitChannelsOpen(ctx, s.numChans); err != nil {
		return Result{}, err
	}

	meta := FileMetadata{
		TransferID: s.transferID,
		Name:       s.fileName,
		Size:       int64(len(s.data)),
		ChunkSize:  s.chunkSize,
		Channels:   s.numChans,
		Checksum:   checksum,
	}
	metaFrame, err := EncodeMetadata(meta)
	if err != nil {
		return Result{}, err
	}
	if ok, err := s.channels.Send(controlChannel, metaFrame); err != nil || !ok {
		return Result{}, fmt.Errorf("send metadata: %w", err)
	}
	slog.Info("transfer metadata sent", "transfer_id", s.transferID, "size", humanize.Bytes(uint64(len(s.data))))

	select {
	case <-ctrl.ack:
	case <-ctrl.cancelled:
		return Result{Cancelled: true}, nil
	case <-s.cancel:
		s.sendCancel()
		return Result{Cancelled: true}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	chunkCount := chunkCountFor(len(s.data), s.chunkSize)
	start := time.Now()

	for index := 0; index < chunkCount; index++ {
		if err := s.waitForBufferRoom(ctx, ctrl); err != nil {
			return Result{}, err
		}
		select {
		case <-s.cancel:
			s.sendCancel()
			return Result{Cancelled: true}, nil
		case <-ctrl.cancelled:
			return Result{Cancelled: true}, nil
		default:
		}

		lo := index * s.chunkSize
		hi := lo + s.chunkSize
		if hi > len(s.data) {
			hi = len(s.data)
		}
		frame := EncodeChunk(uint32(index), s.data[lo:hi])
		channelIdx := index % s.numChans
		if ok, err := s.channels.Send(channelIdx, frame); err != nil || !ok {
			return Result{}, fmt.Errorf("send chunk %d: %w", index, err)
		}

		if s.onProgress != nil {
			transferred := int64(hi)
			elapsed := time.Since(start).Seconds()
			speed := float64(0)
			if elapsed > 0 {
				speed = float64(transferred) / elapsed
			}
			s.onProgress(Progress{BytesTransferred: transferred, TotalBytes: int64(len(s.data)), SpeedBps: speed})
		}
	}

	completeFrame := EncodeString(FrameComplete, checksum)
	if ok, err := s.channels.Send(controlChannel, completeFrame); err != nil || !ok {
		return Result{}, fmt.Errorf("send complete: %w", err)
	}
	slog.Debug("transfer complete frame sent", "transfer_id", s.transferID, "chunks", chunkCount,
		"rate", humanize.Bytes(uint64(float64(len(s.data))/time.Since(start).Seconds())))

	select {
	case <-ctrl.success:
		return Result{Success: true}, nil
	case reason := <-ctrl.failed:
		return Result{Success: false, Reason: reason}, nil
	case <-ctrl.cancelled:
		return Result{Cancelled: true}, nil
	case <-s.cancel:
		s.sendCancel()
		return Result{Cancelled: true}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Sender) sendCancel() {
	frame := EncodeString(FrameCancel, s.transferID)
	_, _ = s.channels.Send(controlChannel, frame)
}

func (s *Sender) waitForBufferRoom(ctx context.Context, ctrl *controlListener) error {
	if s.channels.TotalBufferedAmount() < HighWatermark {
		return nil
	}
	for {
		select {
		case <-ctrl.drained:
			if s.channels.TotalBufferedAmount() < LowWatermark {
				return nil
			}
		case <-s.cancel:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func chunkCountFor(size, chunkSize int) int {
	if size == 0 {
		return 0
	}
	n := size / chunkSize
	if size%chunkSize != 0 {
		n++
	}
	return n
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
