package api

import (
	"context"
	"encoding/json"
	"net/http"

	"cardnotes/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// CardInput is the JSON body for card create/update requests. The server
// owns identity and timestamps; clients send only content.
type CardInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Sections    []models.Section `json:"sections"`
}

// Validate checks the card input against content rules.
func (in CardInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Description, validation.Length(0, 10000)),
		validation.Field(&in.Sections, validation.By(validateSections)),
	)
}

func validateSections(value interface{}) error {
	sections, _ := value.([]models.Section)
	for _, sec := range sections {
		if sec.Heading == "" {
			return serr.New("section heading is required")
		}
		switch sec.Kind {
		case models.SectionUnordered, models.SectionOrdered, models.SectionChecklist:
		default:
			return serr.New("section kind must be unordered, ordered, or checklist")
		}
	}
	return nil
}

// CardSaveOutput pairs the saved card with its sync outcome so clients
// can surface "saved locally, syncing later" states.
type CardSaveOutput struct {
	Card   *models.Card      `json:"card"`
	Result models.SaveResult `json:"result"`
}

// CreateCard handles POST /api/v1/cards
// Creates a new card from the JSON body and saves it through the engine.
func CreateCard(ctx rweb.Context) error {
	var input CardInput
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to decode request body"), "invalid JSON")
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	if err := input.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	card := models.NewCard(input.Title)
	card.Description = input.Description
	card.Sections = input.Sections

	result, err := engine.SaveCard(context.Background(), card)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to save card"), "card_id", card.Meta.ID)
		return writeError(ctx, http.StatusInternalServerError, "failed to save card")
	}

	logger.Info("Card created", "card_id", card.Meta.ID, "status", string(result.Status))
	return writeSuccess(ctx, http.StatusCreated, CardSaveOutput{Card: card, Result: result})
}

// GetCard handles GET /api/v1/cards/:id
// Loads a card, preferring the local copy when it is fresh enough.
func GetCard(ctx rweb.Context) error {
	id := ctx.Request().Param("id")
	if id == "" {
		return writeError(ctx, http.StatusBadRequest, "card id is required")
	}

	card, err := engine.LoadCard(context.Background(), id)
	if err != nil {
		if models.IsNotFound(err) {
			return writeError(ctx, http.StatusNotFound, "card not found")
		}
		logger.LogErr(serr.Wrap(err, "failed to load card"), "card_id", id)
		return writeError(ctx, http.StatusInternalServerError, "failed to load card")
	}

	return writeSuccess(ctx, http.StatusOK, card)
}

// ListCards handles GET /api/v1/cards
// Returns the locally persisted card set, newest first.
func ListCards(ctx rweb.Context) error {
	cards, err := engine.ListCards()
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to list cards"), "store error")
		return writeError(ctx, http.StatusInternalServerError, "failed to list cards")
	}
	return writeSuccess(ctx, http.StatusOK, cards)
}

// UpdateCard handles PUT /api/v1/cards/:id
// Replaces a card's content, bumping its modified timestamp.
func UpdateCard(ctx rweb.Context) error {
	id := ctx.Request().Param("id")
	if id == "" {
		return writeError(ctx, http.StatusBadRequest, "card id is required")
	}

	var input CardInput
	if err := json.Unmarshal(ctx.Request().Body(), &input); err != nil {
		logger.LogErr(serr.Wrap(err, "failed to decode request body"), "invalid JSON")
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	if err := input.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	card, err := engine.Store().GetCard(id)
	if err != nil {
		if models.IsNotFound(err) {
			return writeError(ctx, http.StatusNotFound, "card not found")
		}
		logger.LogErr(serr.Wrap(err, "failed to get card"), "card_id", id)
		return writeError(ctx, http.StatusInternalServerError, "store error")
	}

	card.Title = input.Title
	card.Description = input.Description
	card.Sections = input.Sections
	card.Touch()

	result, err := engine.SaveCard(context.Background(), card)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to save card"), "card_id", id)
		return writeError(ctx, http.StatusInternalServerError, "failed to save card")
	}

	logger.Info("Card updated", "card_id", id, "status", string(result.Status))
	return writeSuccess(ctx, http.StatusOK, CardSaveOutput{Card: card, Result: result})
}

// DeleteCard handles DELETE /api/v1/cards/:id
// Removes the card locally and best-effort remotely.
func DeleteCard(ctx rweb.Context) error {
	id := ctx.Request().Param("id")
	if id == "" {
		return writeError(ctx, http.StatusBadRequest, "card id is required")
	}

	result, err := engine.DeleteCard(context.Background(), id)
	if err != nil {
		logger.LogErr(serr.Wrap(err, "failed to delete card"), "card_id", id)
		return writeError(ctx, http.StatusInternalServerError, "failed to delete card")
	}

	logger.Info("Card deleted", "card_id", id, "status", string(result.Status))
	return writeSuccess(ctx, http.StatusOK, result)
}
