package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Notifier pushes settlement outcomes to users. Delivery is best effort;
// settlement never waits on it or depends on it.
type Notifier struct {
	Bot *telego.Bot
}

func NewNotifier(bot *telego.Bot) *Notifier {
	return &Notifier{Bot: bot}
}

func (n *Notifier) PaymentCompleted(ctx context.Context, userID, credits int64) {
	_, _ = n.Bot.SendMessage(ctx, tu.Message(
		tu.ID(userID),
		fmt.Sprintf("✅ Payment received! %d credits added to your balance.", credits),
	))
}

func (n *Notifier) PaymentFailed(ctx context.Context, userID int64) {
	_, _ = n.Bot.SendMessage(ctx, tu.Message(
		tu.ID(userID),
		"❌ Payment was not completed. Please try again.",
	))
}

func (n *Notifier) ReferralBonusAwarded(ctx context.Context, referrerID, credits int64) {
	_, _ = n.Bot.SendMessage(ctx, tu.Message(
		tu.ID(referrerID),
		fmt.Sprintf("💰 You earned %d bonus credits for your referrals!", credits),
	))
}
