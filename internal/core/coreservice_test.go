package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/colorify/internal/backend/codec"
	"github.com/jo-hoe/colorify/internal/backend/database"
	"github.com/jo-hoe/colorify/internal/backend/inference"
)

type fakeGateway struct {
	calls   int
	modelID string
	input   image.Image
	err     error
}

func (g *fakeGateway) ImageToImage(ctx context.Context, imagePNG []byte, modelID string) (image.Image, error) {
	g.calls++
	g.modelID = modelID
	input, err := png.Decode(bytes.NewReader(imagePNG))
	if err != nil {
		return nil, fmt.Errorf("fake gateway received invalid PNG: %w", err)
	}
	g.input = input
	if g.err != nil {
		return nil, g.err
	}
	bounds := input.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			out.SetRGBA(x, y, color.RGBA{255, 120, 40, 255})
		}
	}
	return out, nil
}

// failingStore wraps a working store and fails the chosen writes.
type failingStore struct {
	database.DatabaseService
	createErr    error
	incrementErr error
}

func (s *failingStore) CreateColorization(ctx context.Context, colorization *database.Colorization) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.DatabaseService.CreateColorization(ctx, colorization)
}

func (s *failingStore) IncrementUserCount(ctx context.Context, userID string) error {
	if s.incrementErr != nil {
		return s.incrementErr
	}
	return s.DatabaseService.IncrementUserCount(ctx, userID)
}

func testConfig() *ServiceConfig {
	cfg := defaultConfig()
	cfg.HFToken = "hf_test"
	cfg.Database = Database{Type: database.TypeSQLite, ConnectionString: ":memory:"}
	return cfg
}

func newTestCoreService(t *testing.T, gateway inference.ImageToImager) *CoreService {
	t.Helper()
	return newTestCoreServiceWith(t, testConfig(), gateway, nil)
}

// newTestCoreServiceWith opens an in-memory store; wrap may replace it before the service is built.
func newTestCoreServiceWith(t *testing.T, cfg *ServiceConfig, gateway inference.ImageToImager, wrap func(database.DatabaseService) database.DatabaseService) *CoreService {
	t.Helper()
	ds, err := OpenDatabase(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenDatabase error: %v", err)
	}
	if wrap != nil {
		ds = wrap(ds)
	}
	svc := NewCoreService(cfg, ds, gateway)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func grayPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func expectKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	coreErr := AsError(err)
	if coreErr == nil {
		t.Fatalf("expected core error of kind %v, got %v", kind, err)
	}
	if coreErr.Kind != kind {
		t.Fatalf("expected kind %v, got %v (%v)", kind, coreErr.Kind, err)
	}
	return coreErr
}

func TestColorize_StoresRecordAndCountsUser(t *testing.T) {
	gateway := &fakeGateway{}
	svc := newTestCoreService(t, gateway)
	ctx := context.Background()

	record, err := svc.Colorize(ctx, ColorizeRequest{
		ContentType: "image/png",
		Image:       bytes.NewReader(grayPNG(t, 400, 300)),
		UserID:      "u1",
	})
	if err != nil {
		t.Fatalf("Colorize error: %v", err)
	}

	if record.UserID != "u1" {
		t.Errorf("expected user u1, got %q", record.UserID)
	}
	if record.ModelID != DefaultModelID {
		t.Errorf("expected default model %q, got %q", DefaultModelID, record.ModelID)
	}
	if gateway.modelID != DefaultModelID {
		t.Errorf("gateway called with model %q", gateway.modelID)
	}
	for name, uri := range map[string]string{"original": record.OriginalImage, "colorized": record.ColorizedImage} {
		if !strings.HasPrefix(uri, codec.DataURIPrefix) {
			t.Fatalf("%s image is not a PNG data URI", name)
		}
		img, err := codec.DecodeBase64(uri)
		if err != nil {
			t.Fatalf("%s image does not decode: %v", name, err)
		}
		if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 300 {
			t.Errorf("%s image: expected 400x300, got %dx%d", name, img.Bounds().Dx(), img.Bounds().Dy())
		}
	}

	history, err := svc.History(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(history) != 1 || history[0].ID != record.ID {
		t.Fatalf("expected history to hold the new record, got %v", history)
	}

	profile, err := svc.GetUserProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserProfile error: %v", err)
	}
	if profile.ColorizationCount != 1 {
		t.Errorf("expected count 1, got %d", profile.ColorizationCount)
	}
}

func TestColorize_DownscalesBeforeInference(t *testing.T) {
	gateway := &fakeGateway{}
	svc := newTestCoreService(t, gateway)

	record, err := svc.Colorize(context.Background(), ColorizeRequest{
		ContentType: "image/png",
		Image:       bytes.NewReader(grayPNG(t, 1024, 768)),
		ModelID:     "custom/model",
	})
	if err != nil {
		t.Fatalf("Colorize error: %v", err)
	}
	if got := gateway.input.Bounds(); got.Dx() != 512 || got.Dy() != 384 {
		t.Errorf("expected gateway input 512x384, got %dx%d", got.Dx(), got.Dy())
	}
	if record.UserID != DefaultUserID {
		t.Errorf("expected user %q, got %q", DefaultUserID, record.UserID)
	}
	if record.ModelID != "custom/model" {
		t.Errorf("expected model custom/model, got %q", record.ModelID)
	}
}

func TestColorize_RejectsBeforeAnyWrite(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		message     string
	}{
		{name: "unsupported type", contentType: "text/plain", body: []byte("hello"), message: messageInvalidFormat},
		{name: "gif", contentType: "image/gif", body: []byte("GIF89a"), message: messageInvalidFormat},
		{name: "corrupt image", contentType: "image/png", body: []byte("not a png"), message: messageInvalidImage},
		{name: "empty upload", contentType: "image/jpeg", body: nil, message: messageInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &fakeGateway{}
			svc := newTestCoreService(t, gateway)

			_, err := svc.Colorize(context.Background(), ColorizeRequest{
				ContentType: tt.contentType,
				Image:       bytes.NewReader(tt.body),
				UserID:      "u1",
			})
			coreErr := expectKind(t, err, KindValidation)
			if coreErr.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, coreErr.Message)
			}
			if gateway.calls != 0 {
				t.Errorf("gateway must not be called, got %d calls", gateway.calls)
			}
			history, _ := svc.History(context.Background(), "u1", 0)
			if len(history) != 0 {
				t.Errorf("expected no stored records, got %d", len(history))
			}
		})
	}
}

func TestColorize_RejectsImageOverPixelLimit(t *testing.T) {
	gateway := &fakeGateway{}
	cfg := testConfig()
	cfg.MaxPixels = 100
	svc := newTestCoreServiceWith(t, cfg, gateway, nil)

	_, err := svc.Colorize(context.Background(), ColorizeRequest{
		ContentType: "image/png",
		Image:       bytes.NewReader(grayPNG(t, 400, 300)),
		UserID:      "u1",
	})
	coreErr := expectKind(t, err, KindValidation)
	if coreErr.Message != messageInvalidImage {
		t.Errorf("expected message %q, got %q", messageInvalidImage, coreErr.Message)
	}
	if !errors.Is(err, codec.ErrDecode) {
		t.Errorf("expected decode error cause, got %v", err)
	}
	if gateway.calls != 0 {
		t.Errorf("gateway must not be called, got %d calls", gateway.calls)
	}
}

func TestColorize_UploadOverLimit(t *testing.T) {
	svc := newTestCoreService(t, &fakeGateway{})

	body := http.MaxBytesReader(nil, io.NopCloser(bytes.NewReader(grayPNG(t, 64, 64))), 16)
	_, err := svc.Colorize(context.Background(), ColorizeRequest{ContentType: "image/png", Image: body})
	coreErr := expectKind(t, err, KindTooLarge)
	if coreErr.Message != "File size exceeds maximum allowed size of 16 bytes" {
		t.Errorf("unexpected message %q", coreErr.Message)
	}
}

func TestColorize_GatewayFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    Kind
		message string
	}{
		{
			name:    "rate limited",
			err:     inference.Classify(&inference.APIError{StatusCode: 429, Message: "slow down"}, "m/x"),
			kind:    KindRateLimited,
			message: messageRateLimited,
		},
		{
			name:    "model not found",
			err:     inference.Classify(&inference.APIError{StatusCode: 404, Message: "missing"}, "m/x"),
			kind:    KindNotFound,
			message: "Model m/x not found or not available",
		},
		{
			name:    "warming up",
			err:     inference.Classify(&inference.APIError{StatusCode: 503, Message: "loading", EstimatedTime: 12}, "m/x"),
			kind:    KindUnavailable,
			message: messageModelLoading,
		},
		{
			name:    "provider error",
			err:     inference.Classify(&inference.APIError{StatusCode: 500, Message: "boom"}, "m/x"),
			kind:    KindInternal,
			message: "Colorization service error: boom",
		},
		{
			name:    "transport error",
			err:     inference.Classify(errors.New("connection reset"), "m/x"),
			kind:    KindInternal,
			message: "Colorization service error: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestCoreService(t, &fakeGateway{err: tt.err})

			_, err := svc.Colorize(context.Background(), ColorizeRequest{
				ContentType: "image/png",
				Image:       bytes.NewReader(grayPNG(t, 8, 8)),
				UserID:      "u1",
				ModelID:     "m/x",
			})
			coreErr := expectKind(t, err, tt.kind)
			if coreErr.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, coreErr.Message)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("expected gateway cause to be preserved")
			}

			history, _ := svc.History(context.Background(), "u1", 0)
			if len(history) != 0 {
				t.Errorf("expected no stored records, got %d", len(history))
			}
			if _, err := svc.GetUserProfile(context.Background(), "u1"); AsError(err) == nil || AsError(err).Kind != KindNotFound {
				t.Errorf("expected no user profile, got %v", err)
			}
		})
	}
}

func TestColorize_StoreFailures(t *testing.T) {
	storeErr := errors.New("disk full")
	tests := []struct {
		name        string
		store       failingStore
		wantHistory int
	}{
		{name: "create fails", store: failingStore{createErr: storeErr}, wantHistory: 0},
		{name: "increment fails", store: failingStore{incrementErr: storeErr}, wantHistory: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &fakeGateway{}
			store := tt.store
			svc := newTestCoreServiceWith(t, testConfig(), gateway, func(ds database.DatabaseService) database.DatabaseService {
				store.DatabaseService = ds
				return &store
			})
			ctx := context.Background()

			record, err := svc.Colorize(ctx, ColorizeRequest{
				ContentType: "image/png",
				Image:       bytes.NewReader(grayPNG(t, 8, 8)),
				UserID:      "u1",
			})
			if err == nil {
				t.Fatalf("expected an error, got record %+v", record)
			}
			if AsError(err) != nil {
				t.Fatalf("store failures must stay unclassified, got %v", AsError(err))
			}
			if !errors.Is(err, storeErr) {
				t.Errorf("expected store cause to be preserved, got %v", err)
			}
			if unexpected := Unexpected(err); unexpected.Kind.StatusCode() != http.StatusInternalServerError || unexpected.Message != messageUnexpected {
				t.Errorf("unexpected rendering %d %q", unexpected.Kind.StatusCode(), unexpected.Message)
			}
			if gateway.calls != 1 {
				t.Errorf("expected one gateway call, got %d", gateway.calls)
			}

			history, err := svc.History(ctx, "u1", 0)
			if err != nil {
				t.Fatalf("History error: %v", err)
			}
			if len(history) != tt.wantHistory {
				t.Errorf("expected %d stored records, got %d", tt.wantHistory, len(history))
			}
			if _, err := svc.GetUserProfile(ctx, "u1"); AsError(err) == nil || AsError(err).Kind != KindNotFound {
				t.Errorf("expected no user profile, got %v", err)
			}
		})
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := newTestCoreService(t, &fakeGateway{})

	tests := []struct {
		requested int
		want      int
		wantErr   bool
	}{
		{requested: 0, want: DefaultHistoryLimit},
		{requested: 1, want: 1},
		{requested: 100, want: 100},
		{requested: 1000, want: DefaultHistoryMaxLimit},
		{requested: -1, wantErr: true},
	}
	for _, tt := range tests {
		got, err := svc.HistoryLimit(tt.requested)
		if tt.wantErr {
			expectKind(t, err, KindValidation)
			continue
		}
		if err != nil {
			t.Fatalf("HistoryLimit(%d) error: %v", tt.requested, err)
		}
		if got != tt.want {
			t.Errorf("HistoryLimit(%d): expected %d, got %d", tt.requested, tt.want, got)
		}
	}
}

func TestDeleteColorization(t *testing.T) {
	svc := newTestCoreService(t, &fakeGateway{})
	ctx := context.Background()

	record, err := svc.Colorize(ctx, ColorizeRequest{ContentType: "image/png", Image: bytes.NewReader(grayPNG(t, 4, 4)), UserID: "u1"})
	if err != nil {
		t.Fatalf("Colorize error: %v", err)
	}

	expectKind(t, svc.DeleteColorization(ctx, "missing"), KindNotFound)

	if err := svc.DeleteColorization(ctx, record.ID); err != nil {
		t.Fatalf("DeleteColorization error: %v", err)
	}
	coreErr := expectKind(t, svc.DeleteColorization(ctx, record.ID), KindNotFound)
	if coreErr.Message != messageNotFound {
		t.Errorf("expected message %q, got %q", messageNotFound, coreErr.Message)
	}

	// the counter is not decremented
	profile, err := svc.GetUserProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserProfile error: %v", err)
	}
	if profile.ColorizationCount != 1 {
		t.Errorf("expected count 1, got %d", profile.ColorizationCount)
	}
}

func TestKindStatusCodes(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:  http.StatusBadRequest,
		KindNotFound:    http.StatusNotFound,
		KindRateLimited: http.StatusTooManyRequests,
		KindUnavailable: http.StatusServiceUnavailable,
		KindTooLarge:    http.StatusRequestEntityTooLarge,
		KindInternal:    http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := kind.StatusCode(); got != want {
			t.Errorf("%v: expected %d, got %d", kind, want, got)
		}
	}
}
