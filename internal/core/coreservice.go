package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/colorify/internal/backend/codec"
	"github.com/jo-hoe/colorify/internal/backend/database"
	"github.com/jo-hoe/colorify/internal/backend/inference"
)

const (
	DefaultUserID = "anonymous"

	messageInvalidFormat   = "Invalid file format. Allowed formats: JPEG, PNG, WebP"
	messageInvalidImage    = "Invalid or corrupted image file"
	messageRateLimited     = "API rate limit exceeded. Please try again later."
	messageModelLoading    = "Model is loading. Please try again in a few moments."
	messageUnexpected      = "An unexpected error occurred during processing"
	messageHistoryFailed   = "Error fetching colorization history"
	messageNotFound        = "Colorization not found"
	messageDeleteFailed    = "Error deleting colorization"
	messageUserNotFound    = "User not found"
	messageProfileFailed   = "Error fetching user profile"
	messageInvalidLimit    = "limit must be a positive integer"
)

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	gateway         inference.ImageToImager
	now             func() time.Time
}

// ColorizeRequest is one uploaded image. Image is read at most once.
type ColorizeRequest struct {
	ContentType string
	Image       io.Reader
	UserID      string
	ModelID     string
}

func NewCoreService(config *ServiceConfig, databaseService database.DatabaseService, gateway inference.ImageToImager) *CoreService {
	return &CoreService{
		config:          config,
		databaseService: databaseService,
		gateway:         gateway,
		now:             time.Now,
	}
}

// Colorize validates the upload, sends a bounded PNG to the inference provider and
// stores both images. The user counter is incremented after the record is written;
// a failed increment is reported but the record stays.
func (service *CoreService) Colorize(ctx context.Context, request ColorizeRequest) (*database.Colorization, error) {
	if err := codec.ValidateContentType(request.ContentType); err != nil {
		return nil, newError(KindValidation, messageInvalidFormat, err)
	}

	userID := strings.TrimSpace(request.UserID)
	if userID == "" {
		userID = DefaultUserID
	}
	modelID := strings.TrimSpace(request.ModelID)
	if modelID == "" {
		modelID = service.config.DefaultModelID
	}

	data, err := io.ReadAll(request.Image)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, FileTooLarge(maxBytesErr.Limit, err)
		}
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	img, err := codec.DecodeLimited(data, service.config.MaxPixels)
	if err != nil {
		return nil, newError(KindValidation, messageInvalidImage, err)
	}
	img = codec.Resize(codec.NormalizeColorSpace(img), service.config.MaxDimension)

	originalImage, err := codec.Encode(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode original image: %w", err)
	}
	pngBytes, err := codec.EncodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inference input: %w", err)
	}

	slog.Info("colorize: calling inference provider",
		"user_id", userID,
		"model_id", modelID,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())
	colorized, err := service.gateway.ImageToImage(ctx, pngBytes, modelID)
	if err != nil {
		return nil, gatewayError(err, modelID)
	}

	colorizedImage, err := codec.Encode(colorized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode colorized image: %w", err)
	}

	colorization := database.NewColorization(userID, originalImage, colorizedImage, modelID, service.now())
	if err := service.databaseService.CreateColorization(ctx, colorization); err != nil {
		return nil, fmt.Errorf("failed to store colorization: %w", err)
	}
	if err := service.databaseService.IncrementUserCount(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to update user %s: %w", userID, err)
	}

	slog.Info("colorize: stored colorization", "id", colorization.ID, "user_id", userID)
	return colorization, nil
}

func gatewayError(err error, modelID string) error {
	switch {
	case errors.Is(err, inference.ErrRateLimited):
		return newError(KindRateLimited, messageRateLimited, err)
	case errors.Is(err, inference.ErrModelNotFound):
		return newError(KindNotFound, fmt.Sprintf("Model %s not found or not available", modelID), err)
	case errors.Is(err, inference.ErrModelWarmingUp):
		return newError(KindUnavailable, messageModelLoading, err)
	default:
		return newError(KindInternal, fmt.Sprintf("Colorization service error: %s", providerMessage(err)), err)
	}
}

func providerMessage(err error) string {
	var apiErr *inference.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var classified *inference.ClassifiedError
	if errors.As(err, &classified) {
		return classified.Err.Error()
	}
	return err.Error()
}

// HistoryLimit resolves the requested page size. Zero means the configured default;
// values above the configured maximum are clamped.
func (service *CoreService) HistoryLimit(requested int) (int, error) {
	if requested == 0 {
		return service.config.HistoryLimit, nil
	}
	if requested < 0 {
		return 0, newError(KindValidation, messageInvalidLimit, nil)
	}
	return min(requested, service.config.HistoryMax), nil
}

// History returns a user's colorizations, newest first.
func (service *CoreService) History(ctx context.Context, userID string, limit int) ([]*database.Colorization, error) {
	limit, err := service.HistoryLimit(limit)
	if err != nil {
		return nil, err
	}
	colorizations, err := service.databaseService.GetColorizationsByUser(ctx, userID, limit)
	if err != nil {
		return nil, newError(KindInternal, messageHistoryFailed, err)
	}
	return colorizations, nil
}

func (service *CoreService) DeleteColorization(ctx context.Context, id string) error {
	err := service.databaseService.DeleteColorization(ctx, id)
	switch {
	case err == nil:
		slog.Info("colorizations: deleted colorization", "id", id)
		return nil
	case errors.Is(err, database.ErrNotFound):
		return newError(KindNotFound, messageNotFound, err)
	default:
		return newError(KindInternal, messageDeleteFailed, err)
	}
}

func (service *CoreService) GetUserProfile(ctx context.Context, userID string) (*database.UserProfile, error) {
	profile, err := service.databaseService.GetUserProfile(ctx, userID)
	switch {
	case err == nil:
		return profile, nil
	case errors.Is(err, database.ErrNotFound):
		return nil, newError(KindNotFound, messageUserNotFound, err)
	default:
		return nil, newError(KindInternal, messageProfileFailed, err)
	}
}

func (service *CoreService) Ping(ctx context.Context) error {
	return service.databaseService.Ping(ctx)
}

func (service *CoreService) Close() error {
	if service.databaseService == nil {
		return nil
	}
	return service.databaseService.Close()
}

// OpenDatabase builds the configured persistence backend.
func OpenDatabase(ctx context.Context, config *ServiceConfig) (database.DatabaseService, error) {
	ctx, cancel := context.WithTimeout(ctx, config.Timeout())
	defer cancel()

	databaseService, err := database.NewDatabase(ctx, config.Database.Type, config.Database.ConnectionString, config.Database.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}
