package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"today-planner/internal/identity"
	"today-planner/internal/model"
	"today-planner/internal/repository"
	"today-planner/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDescription
	stageBucket
	stageEditTitle
	stageEditDescription
)

type conversationState struct {
	stage  conversationStage
	input  service.TaskInput
	taskID string
	bucket model.Bucket
}

// sender is the part of the Telegram API the handlers use.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// RolloverRunner runs an on-demand rollover pass.
type RolloverRunner interface {
	RunNow(ctx context.Context, userID string) (service.RolloverResult, error)
}

// Deps are the services the bot drives.
type Deps struct {
	Users    *repository.UserRepository
	Tasks    *service.TaskService
	Reorder  *service.Reorderer
	Rollover RolloverRunner
	Summary  *service.SummaryService
	Identity *identity.Provider
	Location *time.Location
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api  *tgbotapi.BotAPI
	out  sender
	deps Deps

	conversations map[int64]*conversationState
	confirmations map[int64]service.Confirmation
	sessions      map[string]bool
	mu            sync.Mutex
}

func New(token string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	slog.Info("bot authorized", "account", api.Self.UserName)

	b := newBot(api, deps)
	b.api = api
	return b, nil
}

func newBot(out sender, deps Deps) *Bot {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &Bot{
		out:           out,
		deps:          deps,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]service.Confirmation),
		sessions:      make(map[string]bool),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	slog.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				slog.Error("handle callback", "err", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				slog.Error("handle message", "err", err)
			}
		}
	}

	return nil
}

// RestoreSessions signs in every known user so their midnight rollover is
// armed after a restart.
func (b *Bot) RestoreSessions(ctx context.Context) error {
	users, err := b.deps.Users.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	for _, user := range users {
		b.signIn(user.ID)
	}
	slog.Info("bot sessions restored", "users", len(users))
	return nil
}

// SendDailySummaries sends the digest to every user with a bot session.
func (b *Bot) SendDailySummaries(ctx context.Context) error {
	users, err := b.deps.Users.ListAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now().In(b.deps.Location)
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !b.hasSession(user.ID) {
			continue
		}
		text, err := b.deps.Summary.DailySummary(ctx, user.ID, now)
		if err != nil {
			slog.Error("build summary", "user", user.ID, "err", err)
			continue
		}
		if err := b.sendText(user.TelegramID, text); err != nil {
			slog.Error("send summary", "chat", user.TelegramID, "err", err)
		}
	}
	return nil
}

// NotifyError tells the user about a failure that happened in the background,
// such as rank writes after a move.
func (b *Bot) NotifyError(ctx context.Context, userID, op string, err error) {
	user, ferr := b.deps.Users.FindByID(ctx, userID)
	if ferr != nil {
		return
	}
	if serr := b.sendText(user.TelegramID, "⚠️ "+escape(service.UserMessage(op, err))); serr != nil {
		slog.Error("send error notice", "user", userID, "err", serr)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.cancelInput(ctx, msg.From)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		slog.Info("command", "from", msg.From.ID, "command", msg.Command(), "args", msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I did not get that. Send /newtask to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "signout":
		return b.handleSignOut(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "today":
		return b.handleList(ctx, msg, model.BucketToday)
	case "tomorrow":
		return b.handleList(ctx, msg, model.BucketTomorrow)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "clear":
		return b.handleClear(ctx, msg)
	case "rollover":
		return b.handleRollover(ctx, msg)
	case "summary":
		return b.handleSummary(ctx, msg)
	case "cancel":
		b.cancelInput(ctx, msg.From)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	b.signIn(user.ID)

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I keep your list for today and tomorrow.</b>\n"+
			"At midnight everything planned for tomorrow moves to today.\n\n"+
			"• /today — today's tasks\n"+
			"• /tomorrow — tomorrow's tasks\n"+
			"• /newtask — add a task\n"+
			"• /help — all commands",
		escape(name),
	)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleSignOut(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	b.cancelInput(ctx, msg.From)
	b.signOut(user.ID)
	return b.sendTextWithRemove(msg.Chat.ID, "👋 Signed out. Tasks will not roll over until you /start again.")
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /today, /tomorrow — show a list; use the buttons to finish, move, edit or delete\n" +
		"• /newtask — add a task step by step\n" +
		"• /clear &lt;today|tomorrow&gt; — delete finished tasks\n" +
		"• /rollover — move tomorrow's tasks to today now\n" +
		"• /summary — today and tomorrow at a glance\n" +
		"• /signout — stop the midnight rollover\n" +
		"• /cancel — stop the current input"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleList(ctx context.Context, msg *tgbotapi.Message, bucket model.Bucket) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID, user.ID, bucket)
}

func (b *Bot) handleSummary(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.deps.Summary.DailySummary(ctx, user.ID, time.Now().In(b.deps.Location))
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(service.UserMessage("build the summary", err)))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleRollover(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	res, err := b.deps.Rollover.RunNow(ctx, user.ID)
	if err != nil {
		return b.sendText(msg.Chat.ID, escape(service.UserMessage("move tomorrow's tasks", err)))
	}
	if res.AlreadyDone {
		return b.sendText(msg.Chat.ID, "Tomorrow's tasks were already moved today.")
	}
	if err := b.sendText(msg.Chat.ID, fmt.Sprintf("🌅 Moved %d task(s) to today.", res.Moved)); err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID, user.ID, model.BucketToday)
}

func (b *Bot) handleClear(ctx context.Context, msg *tgbotapi.Message) error {
	bucket, err := model.ParseBucket(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Use /clear today or /clear tomorrow.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.askClearConfirmation(ctx, msg.Chat.ID, msg.From.ID, user.ID, bucket)
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.setConversation(msg.From.ID, &conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New task.\n<b>Step 1:</b> what should it be called?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Title is required.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageDescription
		return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ Add a short description (or press Skip).", skipKeyboard())
	case stageDescription:
		if !isSkipInput(text) {
			state.input.Description = text
		}
		state.stage = stageBucket
		return b.sendWithReplyMarkup(msg.Chat.ID, "📅 Today or tomorrow?", bucketKeyboard())
	case stageBucket:
		bucket, ok := parseBucketInput(text)
		if !ok {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Pick Today or Tomorrow.", bucketKeyboard())
		}
		state.input.Bucket = bucket
		b.clearConversation(msg.From.ID)
		return b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
	case stageEditTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Title is required.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageEditDescription
		return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ New description (Skip keeps the current one, \"-\" clears it).", skipKeyboard())
	case stageEditDescription:
		switch {
		case text == "-":
			state.input.Description = ""
		case !isSkipInput(text):
			state.input.Description = text
		}
		b.clearConversation(msg.From.ID)
		return b.finishTaskEdit(ctx, msg.From, state, msg.Chat.ID)
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Input reset. Try again with /newtask.")
	}
}

func (b *Bot) finishTaskCreation(ctx context.Context, from *tgbotapi.User, input service.TaskInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.deps.Tasks.CreateTask(ctx, user.ID, input)
	if err != nil {
		return b.sendTextWithRemove(chatID, escape(service.UserMessage("add task", err)))
	}
	slog.Info("task created", "task", task.ID, "user", user.ID, "bucket", task.Date)

	if err := b.sendTextWithRemove(chatID, fmt.Sprintf("✅ Added «%s».", escape(normalizeTitle(task.Title)))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user.ID, model.Classify(*task))
}

func (b *Bot) finishTaskEdit(ctx context.Context, from *tgbotapi.User, state *conversationState, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.deps.Tasks.EditTask(ctx, user.ID, state.taskID, state.input.Title, state.input.Description)
	if err != nil {
		b.endEdit(ctx, user.ID, state.taskID)
		return b.sendTextWithRemove(chatID, escape(service.UserMessage("update task", err)))
	}
	if err := b.sendTextWithRemove(chatID, fmt.Sprintf("✏️ Saved «%s».", escape(normalizeTitle(task.Title)))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user.ID, model.Classify(*task))
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, c service.Confirmation) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		if err := b.deps.Tasks.Confirm(ctx, c); err != nil {
			return b.sendTextWithRemove(msg.Chat.ID, escape(service.UserMessage("delete tasks", err)))
		}
		slog.Info("confirmed", "user", c.UserID, "kind", c.Kind, "count", c.Count)
		done := "🗑 Deleted."
		if c.Kind == service.ConfirmClearFinished {
			done = fmt.Sprintf("🧹 Deleted %d finished task(s).", c.Count)
		}
		if err := b.sendTextWithRemove(msg.Chat.ID, done); err != nil {
			return err
		}
		return b.sendTaskList(ctx, msg.Chat.ID, c.UserID, c.Bucket)
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendTextWithRemove(msg.Chat.ID, "Nothing was deleted.")
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, escape(c.Prompt)+"\nConfirm or cancel.", confirmKeyboard())
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.out.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		slog.Warn("callback ack", "err", err)
	}

	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	chatID := cb.Message.Chat.ID
	data := cb.Data
	slog.Debug("callback", "user", user.ID, "data", data)

	switch {
	case strings.HasPrefix(data, cbTogglePrefix):
		return b.toggleAndRefresh(ctx, chatID, user.ID, strings.TrimPrefix(data, cbTogglePrefix))
	case strings.HasPrefix(data, cbUpPrefix):
		return b.moveAndRefresh(ctx, chatID, user.ID, strings.TrimPrefix(data, cbUpPrefix), true)
	case strings.HasPrefix(data, cbDownPrefix):
		return b.moveAndRefresh(ctx, chatID, user.ID, strings.TrimPrefix(data, cbDownPrefix), false)
	case strings.HasPrefix(data, cbEditPrefix):
		return b.startEdit(ctx, chatID, cb.From.ID, user.ID, strings.TrimPrefix(data, cbEditPrefix))
	case strings.HasPrefix(data, cbDeletePrefix):
		return b.askDeleteConfirmation(ctx, chatID, cb.From.ID, user.ID, strings.TrimPrefix(data, cbDeletePrefix))
	case strings.HasPrefix(data, cbClearPrefix):
		bucket, err := model.ParseBucket(strings.TrimPrefix(data, cbClearPrefix))
		if err != nil {
			return nil
		}
		return b.askClearConfirmation(ctx, chatID, cb.From.ID, user.ID, bucket)
	default:
		return nil
	}
}

func (b *Bot) toggleAndRefresh(ctx context.Context, chatID int64, userID, taskID string) error {
	task, err := b.deps.Tasks.ToggleFinished(ctx, userID, taskID)
	if err != nil && task == nil {
		return b.sendText(chatID, escape(service.UserMessage("update task", err)))
	}
	if err != nil {
		slog.Error("renumber after reopen", "user", userID, "err", err)
	}
	return b.sendTaskList(ctx, chatID, userID, model.Classify(*task))
}

// moveAndRefresh swaps the task with its neighbour. The list is redrawn from
// the new order right away; failed rank writes are reported by NotifyError.
func (b *Bot) moveAndRefresh(ctx context.Context, chatID int64, userID, taskID string, up bool) error {
	task, err := b.deps.Tasks.GetTask(ctx, userID, taskID)
	if err != nil {
		return b.sendText(chatID, escape(service.UserMessage("reorder tasks", err)))
	}
	bucket := model.Classify(*task)
	board, err := b.deps.Tasks.Board(ctx, userID)
	if err != nil {
		return b.sendText(chatID, escape(service.UserMessage("reorder tasks", err)))
	}
	dest, ok := neighbor(board.Unfinished(bucket), taskID, up)
	if !ok {
		if task.IsFinished {
			return b.sendText(chatID, escape(service.UserMessage("reorder tasks", service.ErrNotDraggable)))
		}
		edge := "bottom"
		if up {
			edge = "top"
		}
		return b.sendText(chatID, fmt.Sprintf("Already at the %s.", edge))
	}
	if _, err := b.deps.Reorder.Move(ctx, board, bucket, taskID, dest); err != nil {
		return b.sendText(chatID, escape(service.UserMessage("reorder tasks", err)))
	}
	return b.sendBoardList(chatID, bucket, board.Tasks(bucket))
}

func (b *Bot) startEdit(ctx context.Context, chatID, fromID int64, userID, taskID string) error {
	task, err := b.deps.Tasks.GetTask(ctx, userID, taskID)
	if err != nil {
		return b.sendText(chatID, escape(service.UserMessage("update task", err)))
	}
	board, err := b.deps.Tasks.Board(ctx, userID)
	if err != nil {
		return b.sendText(chatID, escape(service.UserMessage("update task", err)))
	}
	board.BeginEdit(*task)
	b.setConversation(fromID, &conversationState{
		stage:  stageEditTitle,
		taskID: task.ID,
		bucket: model.Classify(*task),
		input:  service.TaskInput{Title: task.Title, Description: task.Description},
	})
	text := fmt.Sprintf("✏️ Editing «%s». Send the new title.", escape(normalizeTitle(task.Title)))
	return b.sendWithReplyMarkup(chatID, text, cancelKeyboard())
}

func (b *Bot) askDeleteConfirmation(ctx context.Context, chatID, fromID int64, userID, taskID string) error {
	c, err := b.deps.Tasks.PrepareDelete(ctx, userID, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return b.sendText(chatID, "This task was already deleted.")
	}
	if err != nil {
		return b.sendText(chatID, escape(service.UserMessage("delete task", err)))
	}
	b.setConfirmation(fromID, c)
	return b.sendWithReplyMarkup(chatID, escape(c.Prompt), confirmKeyboard())
}

func (b *Bot) askClearConfirmation(ctx context.Context, chatID, fromID int64, userID string, bucket model.Bucket) error {
	c, err := b.deps.Tasks.PrepareClearFinished(ctx, userID, bucket)
	if err != nil {
		return b.sendText(chatID, escape(service.UserMessage("delete tasks", err)))
	}
	b.setConfirmation(fromID, c)
	return b.sendWithReplyMarkup(chatID, escape(c.Prompt), confirmKeyboard())
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch normalizeInput(msg.Text) {
	case normalizeInput(menuLabelNew):
		return true, b.startNewTaskConversation(ctx, msg)
	case normalizeInput(menuLabelHelp):
		return true, b.handleHelp(msg)
	}
	if b.hasConversation(msg.From.ID) {
		return false, nil
	}
	switch normalizeInput(msg.Text) {
	case normalizeInput(btnToday):
		return true, b.handleList(ctx, msg, model.BucketToday)
	case normalizeInput(btnTomorrow):
		return true, b.handleList(ctx, msg, model.BucketTomorrow)
	default:
		return false, nil
	}
}

func (b *Bot) cancelInput(ctx context.Context, from *tgbotapi.User) {
	if state := b.getConversation(from.ID); state != nil && state.taskID != "" {
		if user, err := b.deps.Users.FindByTelegramID(ctx, from.ID); err == nil {
			b.endEdit(ctx, user.ID, state.taskID)
		}
	}
	b.clearConversation(from.ID)
	b.clearConfirmation(from.ID)
}

func (b *Bot) endEdit(ctx context.Context, userID, taskID string) {
	if board, err := b.deps.Tasks.Board(ctx, userID); err == nil {
		board.EndEdit(taskID)
	}
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, userID string, bucket model.Bucket) error {
	tasks, err := b.deps.Tasks.List(ctx, userID, bucket)
	if err != nil {
		return b.sendText(chatID, escape(service.UserMessage("load tasks", err)))
	}
	return b.sendBoardList(chatID, bucket, tasks)
}

func (b *Bot) sendBoardList(chatID int64, bucket model.Bucket, tasks []model.Task) error {
	text, markup, hasButtons := renderList(bucket, tasks)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if hasButtons {
		msg.ReplyMarkup = markup
	} else {
		msg.ReplyMarkup = mainMenuKeyboard()
	}
	_, err := b.out.Send(msg)
	return err
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.deps.Users.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) signIn(userID string) {
	b.mu.Lock()
	already := b.sessions[userID]
	b.sessions[userID] = true
	b.mu.Unlock()
	if !already && b.deps.Identity != nil {
		b.deps.Identity.SignIn(userID)
	}
}

func (b *Bot) signOut(userID string) {
	b.mu.Lock()
	had := b.sessions[userID]
	delete(b.sessions, userID)
	b.mu.Unlock()
	if had && b.deps.Identity != nil {
		b.deps.Identity.SignOut(userID)
	}
}

func (b *Bot) hasSession(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[userID]
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.out.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	if _, err := b.out.Send(msg); err != nil {
		return err
	}
	return b.sendMenuPlaceholder(chatID)
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.out.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "🔹 Menu")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.out.Send(msg)
	return err
}

func (b *Bot) getConfirmation(userID int64) (service.Confirmation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, c service.Confirmation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = c
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}
