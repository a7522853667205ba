package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// flowSessionTTL bounds how long a half-finished settings conversation is
// kept before input is rejected.
const flowSessionTTL = 10 * time.Minute

// flowSession is one account's in-progress settings conversation.
type flowSession struct {
	state     domain.FlowState
	draft     domain.AccountSettings
	startedAt time.Time
}

// SettingsFlow walks an account through its trading preferences one answer
// at a time: buy amount, slippage, take-profit, stop-loss, repeat cap. The
// draft only persists once the whole conversation completes.
type SettingsFlow struct {
	settings domain.SettingsStore
	sessions map[string]*flowSession
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewSettingsFlow creates the flow over the given settings store.
func NewSettingsFlow(settings domain.SettingsStore, logger *slog.Logger) *SettingsFlow {
	return &SettingsFlow{
		settings: settings,
		sessions: make(map[string]*flowSession),
		logger:   logger.With(slog.String("component", "settings_flow")),
	}
}

// Start begins (or restarts) the conversation for an account, seeding the
// draft from stored settings so unanswered steps keep their old values. It
// returns the first prompt.
func (f *SettingsFlow) Start(ctx context.Context, accountID string) (string, error) {
	draft, err := f.settings.Get(ctx, accountID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("settings_flow: loading settings for %s: %w", accountID, err)
	}
	draft.AccountID = accountID

	f.mu.Lock()
	f.sessions[accountID] = &flowSession{
		state:     domain.FlowAwaitingAmount,
		draft:     draft,
		startedAt: time.Now(),
	}
	f.mu.Unlock()

	return "How much SOL per buy? (e.g. 0.5)", nil
}

// State returns the account's current conversation stage.
func (f *SettingsFlow) State(accountID string) domain.FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[accountID]
	if !ok {
		return domain.FlowIdle
	}
	return sess.state
}

// Cancel discards the account's in-progress conversation.
func (f *SettingsFlow) Cancel(accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, accountID)
}

// Input feeds the account's answer into the conversation and returns the
// next prompt. done is true once the settings have been saved.
func (f *SettingsFlow) Input(ctx context.Context, accountID, text string) (prompt string, done bool, err error) {
	f.mu.Lock()
	sess, ok := f.sessions[accountID]
	if !ok || time.Since(sess.startedAt) > flowSessionTTL {
		delete(f.sessions, accountID)
		f.mu.Unlock()
		return "", false, domain.ErrFlowInterrupted
	}
	f.mu.Unlock()

	text = strings.TrimSpace(text)

	switch sess.state {
	case domain.FlowAwaitingAmount:
		amount, perr := strconv.ParseFloat(text, 64)
		if perr != nil || amount <= 0 {
			return "Enter a positive SOL amount, e.g. 0.5", false, nil
		}
		sess.draft.BuyAmountSOL = amount
		sess.state = domain.FlowAwaitingSlippage
		return "Slippage in basis points? (100 = 1%)", false, nil

	case domain.FlowAwaitingSlippage:
		bps, perr := strconv.Atoi(text)
		if perr != nil || bps <= 0 || bps > 10_000 {
			return "Enter slippage between 1 and 10000 basis points", false, nil
		}
		sess.draft.SlippageBps = bps
		sess.state = domain.FlowAwaitingTP
		return "Take-profit as percent above entry? (0 to skip)", false, nil

	case domain.FlowAwaitingTP:
		tp, perr := strconv.ParseFloat(text, 64)
		if perr != nil || tp < 0 {
			return "Enter a take-profit percentage, 0 or higher", false, nil
		}
		sess.draft.TakeProfitPct = tp
		sess.state = domain.FlowAwaitingSL
		return "Stop-loss as percent below entry? (0 to skip)", false, nil

	case domain.FlowAwaitingSL:
		sl, perr := strconv.ParseFloat(text, 64)
		if perr != nil || sl < 0 || sl >= 100 {
			return "Enter a stop-loss percentage between 0 and 100", false, nil
		}
		sess.draft.StopLossPct = sl
		sess.state = domain.FlowAwaitingRepeat
		return "How many repeat buys per asset? (1 or more)", false, nil

	case domain.FlowAwaitingRepeat:
		n, perr := strconv.Atoi(text)
		if perr != nil || n < 1 {
			return "Enter a repeat count of 1 or more", false, nil
		}
		sess.draft.RepeatCount = n
		sess.draft.UpdatedAt = time.Now().UTC()

		if err := f.settings.Upsert(ctx, sess.draft); err != nil {
			return "", false, fmt.Errorf("settings_flow: saving settings for %s: %w", accountID, err)
		}

		f.mu.Lock()
		delete(f.sessions, accountID)
		f.mu.Unlock()

		f.logger.Info("settings updated",
			slog.String("account", accountID),
			slog.Float64("buy_amount_sol", sess.draft.BuyAmountSOL),
			slog.Int("slippage_bps", sess.draft.SlippageBps),
		)
		return "Settings saved.", true, nil

	default:
		return "", false, domain.ErrFlowInterrupted
	}
}
