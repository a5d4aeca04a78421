// Package controller executes commands addressed to registered endpoints.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
	"github.com/strefethen/sonos-bridge-go/internal/audit"
	"github.com/strefethen/sonos-bridge-go/internal/directory"
	"github.com/strefethen/sonos-bridge-go/internal/metrics"
	"github.com/strefethen/sonos-bridge-go/internal/player"
	"github.com/strefethen/sonos-bridge-go/internal/state"
)

// Action names accepted by Execute.
const (
	ActionPlay         = "Play"
	ActionPause        = "Pause"
	ActionStop         = "Stop"
	ActionSkip         = "Skip"
	ActionPrevious     = "Previous"
	ActionPlayFavorite = "PlayFavorite"
	ActionSetVolume    = "SetVolume"
	ActionSetMute      = "SetMute"
	ActionSelectInput  = "SelectInput"
)

// Actions lists every supported action.
var Actions = []string{
	ActionPlay, ActionPause, ActionStop, ActionSkip, ActionPrevious,
	ActionPlayFavorite, ActionSetVolume, ActionSetMute, ActionSelectInput,
}

var actionSeparators = strings.NewReplacer("_", "", "-", "")

// ParseAction maps URL style names such as "set_volume" or "play-favorite"
// to the matching action. Unknown names are returned unchanged.
func ParseAction(name string) string {
	key := actionSeparators.Replace(strings.ToLower(name))
	for _, action := range Actions {
		if strings.ToLower(action) == key {
			return action
		}
	}
	return name
}

// Command is one invocation from the host.
type Command struct {
	Target           string
	Action           string
	Payload          map[string]any
	CorrelationToken string
}

// Result reports the outcome of a command. Err is nil on success.
type Result struct {
	CorrelationToken string
	Target           string
	Action           string
	// Executor is the UID of the player that carried out the command.
	Executor string
	Err      *apperrors.AppError
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Resolver picks the player that executes a command for a UID.
type Resolver interface {
	ResolveTarget(uid string, directOnly bool) (player.Player, error)
}

// Reconnector is told when a command hit a connection error.
type Reconnector interface {
	MarkReconnect(reason string)
}

// Journal records command outcomes.
type Journal interface {
	RecordCommand(ctx context.Context, record audit.CommandRecord)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Resolver  Resolver
	Store     *state.Store
	Players   *player.Set
	Reconnect Reconnector
	Metrics   *metrics.Metrics // Optional
	Journal   Journal          // Optional
}

// Controller executes commands.
type Controller struct {
	resolver  Resolver
	store     *state.Store
	players   *player.Set
	reconnect Reconnector
	metrics   *metrics.Metrics
	journal   Journal
	logger    *log.Logger
}

// New creates a Controller.
func New(deps Deps, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		resolver:  deps.Resolver,
		store:     deps.Store,
		players:   deps.Players,
		reconnect: deps.Reconnect,
		metrics:   deps.Metrics,
		journal:   deps.Journal,
		logger:    logger,
	}
}

// Execute runs cmd and never panics on device failures: every error is
// reported in the Result.
func (c *Controller) Execute(ctx context.Context, cmd Command) Result {
	if cmd.CorrelationToken == "" {
		cmd.CorrelationToken = uuid.NewString()
	}
	result := Result{
		CorrelationToken: cmd.CorrelationToken,
		Target:           cmd.Target,
		Action:           cmd.Action,
	}

	executor, err := c.dispatch(ctx, cmd)
	if executor != nil {
		result.Executor = executor.UID()
	}
	if err != nil {
		result.Err = c.fail(cmd, err)
		c.metrics.Command(cmd.Action, string(result.Err.Code))
	} else {
		c.logger.Printf("CMD: %s on %s executed by %s", cmd.Action, cmd.Target, result.Executor)
		c.metrics.Command(cmd.Action, "ok")
	}
	c.record(ctx, result)
	return result
}

func (c *Controller) record(ctx context.Context, result Result) {
	if c.journal == nil {
		return
	}
	record := audit.CommandRecord{
		Target:           result.Target,
		Action:           result.Action,
		Executor:         result.Executor,
		CorrelationToken: result.CorrelationToken,
	}
	if result.Err != nil {
		record.ErrorCode = string(result.Err.Code)
		record.Message = result.Err.Message
	}
	c.journal.RecordCommand(context.WithoutCancel(ctx), record)
}

func (c *Controller) dispatch(ctx context.Context, cmd Command) (player.Player, error) {
	uid := directory.UIDFromEndpoint(cmd.Target)
	if uid == "" {
		return nil, apperrors.NewValidationError("target is required", nil)
	}

	switch cmd.Action {
	case ActionPlay:
		return c.transport(ctx, uid, "Play", player.Player.Play)
	case ActionPause:
		return c.transport(ctx, uid, "Pause", player.Player.Pause)
	case ActionStop:
		return c.transport(ctx, uid, "Stop", player.Player.Stop)
	case ActionSkip:
		return c.transport(ctx, uid, "Next", player.Player.Next)
	case ActionPrevious:
		return c.transport(ctx, uid, "Previous", player.Player.Previous)
	case ActionPlayFavorite:
		return c.playFavorite(ctx, uid, cmd.Payload)
	case ActionSetVolume:
		return c.setVolume(ctx, uid, cmd.Payload)
	case ActionSetMute:
		return c.setMute(ctx, uid, cmd.Payload)
	case ActionSelectInput:
		return c.selectInput(ctx, uid, cmd.Payload)
	default:
		return nil, apperrors.NewAppError(apperrors.ErrorCodeInvalidAction, "unknown action: "+cmd.Action, http.StatusBadRequest,
			map[string]any{"action": cmd.Action, "supported": Actions})
	}
}

// transport runs a transport primitive on the group coordinator, provided
// the coordinator currently offers the named transport action.
func (c *Controller) transport(ctx context.Context, uid, action string, run func(player.Player, context.Context) error) (player.Player, error) {
	target, err := c.resolver.ResolveTarget(uid, false)
	if err != nil {
		return nil, err
	}
	if err := c.requireAction(ctx, target, action); err != nil {
		return target, err
	}
	return target, run(target, ctx)
}

func (c *Controller) requireAction(ctx context.Context, target player.Player, action string) error {
	available, err := target.AvailableActions(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(available, action) {
		return fmt.Errorf("%w: %s not in %v", apperrors.ErrUnsupportedTransition, action, available)
	}
	return nil
}

func (c *Controller) playFavorite(ctx context.Context, uid string, payload map[string]any) (player.Player, error) {
	name := stringField(payload, "favorite")
	if name == "" {
		return nil, apperrors.NewValidationError("favorite is required", nil)
	}
	favorite, ok := c.findFavorite(name)
	if !ok {
		return nil, apperrors.NewNotFoundResource("favorite", name)
	}

	target, err := c.resolver.ResolveTarget(uid, false)
	if err != nil {
		return nil, err
	}
	if err := c.requireAction(ctx, target, "Play"); err != nil {
		return target, err
	}
	return target, target.PlayURI(ctx, state.LookupString(favorite, "uri"), state.LookupString(favorite, "resource_meta_data"))
}

// findFavorite matches by title, then by item id.
func (c *Controller) findFavorite(name string) (map[string]any, bool) {
	value, _ := c.store.Get("favorite")
	list, _ := value.([]any)
	var byID map[string]any
	for _, item := range list {
		fav, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if state.LookupString(fav, "title") == name {
			return fav, true
		}
		if byID == nil && state.LookupString(fav, "item_id") == name {
			byID = fav
		}
	}
	return byID, byID != nil
}

// direct returns the addressed player itself, bypassing its group.
func (c *Controller) direct(uid string) (player.Player, error) {
	if !c.store.Has("player/" + uid) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDeviceNotFound, uid)
	}
	target, ok := c.players.Get(uid)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDeviceUnavailable, uid)
	}
	return target, nil
}

func (c *Controller) setVolume(ctx context.Context, uid string, payload map[string]any) (player.Player, error) {
	level, ok := intField(payload, "volume")
	if !ok {
		return nil, apperrors.NewValidationError("volume must be a number", nil)
	}
	target, err := c.direct(uid)
	if err != nil {
		return nil, err
	}
	return target, target.SetVolume(ctx, level)
}

func (c *Controller) setMute(ctx context.Context, uid string, payload map[string]any) (player.Player, error) {
	muted, ok := payload["mute"].(bool)
	if !ok {
		return nil, apperrors.NewValidationError("mute must be a boolean", nil)
	}
	target, err := c.direct(uid)
	if err != nil {
		return nil, err
	}
	return target, target.SetMute(ctx, muted)
}

// selectInput groups the target with another player. An empty input or the
// target's own name leaves the current group.
func (c *Controller) selectInput(ctx context.Context, uid string, payload map[string]any) (player.Player, error) {
	target, err := c.direct(uid)
	if err != nil {
		return nil, err
	}

	input := stringField(payload, "input")
	if input == "" || input == target.Name() {
		return target, target.Unjoin(ctx)
	}

	for _, candidate := range c.players.Visible() {
		if candidate.UID() == target.UID() {
			continue
		}
		if candidate.Name() == input || strings.HasSuffix(input, candidate.UID()) {
			return target, target.Join(ctx, candidate)
		}
	}
	return target, apperrors.NewNotFoundResource("input", input)
}

// fail converts err to an AppError and flags a reconnect on connection errors.
func (c *Controller) fail(cmd Command, err error) *apperrors.AppError {
	if errors.Is(err, apperrors.ErrConnection) && c.reconnect != nil {
		c.reconnect.MarkReconnect("command " + cmd.Action + " failed")
	}
	appErr := apperrors.EnsureAppError(err)
	if appErr.Code == apperrors.ErrorCodeInternalError {
		appErr = apperrors.NewInternalError(err.Error())
	}
	c.logger.Printf("CMD: %s on %s failed: %v", cmd.Action, cmd.Target, err)
	return appErr
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return strings.TrimSpace(s)
}

func intField(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case int:
		return v, true
	case float64:
		return int(math.Round(v)), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}
