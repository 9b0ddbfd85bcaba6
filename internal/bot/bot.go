package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"boostup-bot/internal/ledger"
	"boostup-bot/internal/models"
	"boostup-bot/internal/orders"
	"boostup-bot/internal/pricing"
	"boostup-bot/internal/users"
	"boostup-bot/internal/wallet"
)

type Bot struct {
	Instance *telego.Bot
	Wallet   *wallet.Service
	Users    *users.Store
	Ledger   *ledger.Store
	Orders   *orders.Service
	Username string
	AdminIDs []int64
}

func NewBot(instance *telego.Bot, walletSvc *wallet.Service, userStore *users.Store, ledgerStore *ledger.Store, orderSvc *orders.Service, username string, adminIDs []int64) *Bot {
	return &Bot{
		Instance: instance,
		Wallet:   walletSvc,
		Users:    userStore,
		Ledger:   ledgerStore,
		Orders:   orderSvc,
		Username: username,
		AdminIDs: adminIDs,
	}
}

func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create bot handler: %w", err)
	}

	// /start, optionally carrying a referral deep link
	handler.Handle(func(c *th.Context, update telego.Update) error {
		message := update.Message
		from := message.From

		user, err := b.Users.EnsureUser(c.Context(), from.ID, from.Username, from.FirstName)
		if err != nil {
			log.Printf("Failed to get/create user %d: %v", from.ID, err)
			return nil
		}

		if parts := strings.Split(message.Text, " "); len(parts) > 1 {
			b.linkReferrer(c.Context(), user, parts[1])
		}

		_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("Hi, %s! 👋\n\nI help you grow your channel: top up credits, order subscriber boosts, invite friends.", from.FirstName),
		).WithReplyMarkup(mainMenuKeyboard()))
		return nil
	}, th.CommandEqual("start"))

	// Profile: balance is always re-fetched from the store.
	handler.Handle(func(c *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		user, err := b.Users.User(c.Context(), callback.From.ID)
		if err != nil {
			log.Printf("Failed to load user %d: %v", callback.From.ID, err)
			return b.answer(c, callback.ID)
		}

		_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
			tu.ID(callback.From.ID),
			fmt.Sprintf("👤 Your profile\n\nBalance: %d credits\nPaid referrals: %d\nEarned from referrals: %d credits",
				user.Balance, user.ReferredPaidCount, user.ReferralEarned),
		).WithReplyMarkup(mainMenuKeyboard()))
		return b.answer(c, callback.ID)
	}, th.CallbackDataEqual("profile"))

	// Top-up bundle selection
	handler.Handle(func(c *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		var rows [][]telego.InlineKeyboardButton
		for _, opt := range pricing.Options() {
			rows = append(rows, tu.InlineKeyboardRow(
				tu.InlineKeyboardButton(fmt.Sprintf("%d credits — $%.0f", opt.Credits, opt.USD)).
					WithCallbackData(fmt.Sprintf("buy_%d", opt.Credits)),
			))
		}
		_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
			tu.ID(callback.From.ID),
			"💳 Choose a credit bundle:",
		).WithReplyMarkup(tu.InlineKeyboard(rows...)))
		return b.answer(c, callback.ID)
	}, th.CallbackDataEqual("topup"))

	// Bundle chosen: open an invoice
	handler.Handle(func(c *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		credits, err := strconv.ParseInt(strings.TrimPrefix(callback.Data, "buy_"), 10, 64)
		if err != nil || credits < pricing.MinCredits {
			return b.answer(c, callback.ID)
		}

		tx, invoice, err := b.Wallet.CreateTopUp(c.Context(), callback.From.ID, credits)
		if err != nil {
			_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
				tu.ID(callback.From.ID),
				"❌ Could not create the payment. Please try again.",
			))
			return b.answer(c, callback.ID)
		}

		text := fmt.Sprintf(
			"🧾 Invoice %s\n\nSend $%.2f in %s to:\n%s\n\nCredits: %d\nExpires: %s",
			invoice.UUID, tx.AmountUSD, tx.Network, tx.PayAddress, tx.AmountCredits,
			tx.ExpiresAt.Format("2006-01-02 15:04:05"),
		)
		_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
			tu.ID(callback.From.ID), text,
		).WithReplyMarkup(tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("🔄 Check payment").WithCallbackData("check_"+invoice.UUID),
			),
		)))
		return b.answer(c, callback.ID)
	}, th.CallbackDataPrefix("buy_"))

	// Manual payment check; shares the settlement gate with webhook and poller
	handler.Handle(func(c *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		invoiceID := strings.TrimPrefix(callback.Data, "check_")

		tx, _, err := b.Wallet.CheckPayment(c.Context(), invoiceID)
		if err != nil {
			log.Printf("Payment check failed for invoice %s: %v", invoiceID, err)
			_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
				tu.ID(callback.From.ID),
				"❌ Could not check the payment right now. Please try again.",
			))
			return b.answer(c, callback.ID)
		}

		switch tx.Status {
		case models.TxStatusCompleted:
			_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
				tu.ID(callback.From.ID),
				fmt.Sprintf("✅ Payment confirmed, %d credits are on your balance.", tx.AmountCredits),
			).WithReplyMarkup(mainMenuKeyboard()))
		case models.TxStatusPending:
			_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
				tu.ID(callback.From.ID),
				"⏳ Payment not seen yet. Give it a minute and check again.",
			).WithReplyMarkup(tu.InlineKeyboard(
				tu.InlineKeyboardRow(
					tu.InlineKeyboardButton("🔄 Check payment").WithCallbackData("check_"+invoiceID),
				),
			)))
		default:
			_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
				tu.ID(callback.From.ID),
				"❌ Payment was not completed. Please try again.",
			).WithReplyMarkup(mainMenuKeyboard()))
		}
		return b.answer(c, callback.ID)
	}, th.CallbackDataPrefix("check_"))

	// Referral link
	handler.Handle(func(c *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		link := fmt.Sprintf("https://t.me/%s?start=%d", b.Username, callback.From.ID)
		_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
			tu.ID(callback.From.ID),
			fmt.Sprintf("🤝 Invite friends and earn credits!\n\nYour link:\n%s", link),
		).WithReplyMarkup(mainMenuKeyboard()))
		return b.answer(c, callback.ID)
	}, th.CallbackDataEqual("invite"))

	// /boost <channel_id> <subscribers> [turbo] — spend credits on an order
	handler.Handle(func(c *th.Context, update telego.Update) error {
		message := update.Message
		args := strings.Fields(message.Text)
		if len(args) < 3 {
			_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
				tu.ID(message.Chat.ID),
				"Usage: /boost <channel_id> <subscribers> [turbo]",
			))
			return nil
		}

		channelID, err1 := strconv.ParseInt(args[1], 10, 64)
		requested, err2 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil || requested <= 0 {
			_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
				tu.ID(message.Chat.ID),
				"Usage: /boost <channel_id> <subscribers> [turbo]",
			))
			return nil
		}
		orderType := models.OrderTypeNormal
		if len(args) > 3 && args[3] == models.OrderTypeTurbo {
			orderType = models.OrderTypeTurbo
		}

		order, err := b.Orders.CreateBoostOrder(c.Context(), message.From.ID, channelID, orderType, requested)
		if err != nil {
			if errors.Is(err, orders.ErrInsufficientFunds) {
				_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
					tu.ID(message.Chat.ID),
					fmt.Sprintf("Not enough credits: this order costs %d. Top up first.", orders.Cost(orderType, requested)),
				).WithReplyMarkup(mainMenuKeyboard()))
				return nil
			}
			log.Printf("Failed to create boost order for user %d: %v", message.From.ID, err)
			_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
				tu.ID(message.Chat.ID),
				"❌ Could not create the order. Please try again.",
			))
			return nil
		}

		_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("🚀 Order #%d created: %d subscribers (%s), %d credits.", order.ID, order.Requested, order.OrderType, order.CostCredits),
		))
		return nil
	}, th.CommandEqual("boost"))

	// Admin-only financial report
	handler.Handle(func(c *th.Context, update telego.Update) error {
		message := update.Message
		if !b.isAdmin(message.From.ID) {
			return nil
		}
		report, err := b.Ledger.FinancialReport(c.Context())
		if err != nil {
			log.Printf("Failed to build financial report: %v", err)
			return nil
		}
		_, _ = c.Bot().SendMessage(c.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("📊 Financial report\n\nCompleted payments: %d\nTotal: $%.2f\nCredits sold: %d\nAverage payment: $%.2f",
				report.Count, report.TotalUSD, report.TotalCredits, report.AverageUSD),
		))
		return nil
	}, th.CommandEqual("report"))

	go func() {
		<-ctx.Done()
		_ = handler.Stop()
	}()

	return handler.Start()
}

// linkReferrer applies a referral deep-link payload. First write wins and
// self-links are refused by the store.
func (b *Bot) linkReferrer(ctx context.Context, user *models.User, payload string) {
	if user.ReferrerID != nil {
		return
	}
	referrerID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return
	}
	if _, err := b.Users.User(ctx, referrerID); err != nil {
		return // unknown referrer
	}
	ok, err := b.Users.SetReferrer(ctx, user.ID, referrerID)
	if err != nil {
		log.Printf("Failed to set referrer for user %d: %v", user.ID, err)
		return
	}
	if ok {
		log.Printf("User %d invited by %d", user.ID, referrerID)
	}
}

func (b *Bot) answer(c *th.Context, callbackID string) error {
	return c.Bot().AnswerCallbackQuery(c.Context(), tu.CallbackQuery(callbackID))
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func mainMenuKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("👤 Profile").WithCallbackData("profile"),
			tu.InlineKeyboardButton("💳 Top up").WithCallbackData("topup"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🤝 Invite friends").WithCallbackData("invite"),
		),
	)
}
