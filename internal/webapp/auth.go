// Package webapp authenticates Telegram Mini App sessions. A session payload
// is trusted only after its signature verifies against the bot token and its
// timestamp is fresh; everything else is rejected with no state change. The
// authenticator only feeds anti-fraud sets, it never touches balances.
package webapp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"boostup-bot/internal/models"
	"boostup-bot/internal/signature"
)

// freshnessWindow bounds how old a signed payload may be. Replays of captured
// payloads older than this are rejected even with a valid signature.
const freshnessWindow = 24 * time.Hour

type UserStore interface {
	EnsureUser(ctx context.Context, id int64, username, firstName string) (*models.User, error)
	AddIP(ctx context.Context, userID int64, ip string) error
	AddFingerprint(ctx context.Context, userID int64, fingerprint string) error
}

type Authenticator struct {
	users    UserStore
	botToken string
	now      func() time.Time
}

func NewAuthenticator(users UserStore, botToken string) *Authenticator {
	return &Authenticator{
		users:    users,
		botToken: botToken,
		now:      time.Now,
	}
}

type initDataUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Authenticate validates a raw initData payload and, on success, records the
// caller's IP and a derived session fingerprint on the user. The boolean
// verdict is all callers get; failure reveals nothing about the reason.
func (a *Authenticator) Authenticate(ctx context.Context, initData, ip string) bool {
	values, err := url.ParseQuery(initData)
	if err != nil {
		log.Printf("Unparseable initData from IP %s", ip)
		return false
	}

	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}

	digest := fields["hash"]
	if digest == "" {
		log.Printf("initData without hash from IP %s", ip)
		return false
	}
	delete(fields, "hash")

	if !signature.VerifyWebApp(fields, digest, a.botToken) {
		log.Printf("initData signature mismatch from IP %s", ip)
		return false
	}

	authDate, err := strconv.ParseInt(fields["auth_date"], 10, 64)
	if err != nil {
		log.Printf("initData with bad auth_date from IP %s", ip)
		return false
	}
	if age := a.now().Sub(time.Unix(authDate, 0)); age >= freshnessWindow {
		log.Printf("Stale initData (age %s) from IP %s", age, ip)
		return false
	}

	var user initDataUser
	if err := json.Unmarshal([]byte(fields["user"]), &user); err != nil || user.ID == 0 {
		log.Printf("initData with missing user info from IP %s", ip)
		return false
	}

	// Not a device serial: a hash unique to this particular session.
	fingerprint := sessionFingerprint(user.ID, fields["auth_date"], fields["query_id"], ip)

	if _, err := a.users.EnsureUser(ctx, user.ID, user.Username, user.FirstName); err != nil {
		log.Printf("Failed to ensure user %d during webapp auth: %v", user.ID, err)
		return false
	}
	if err := a.users.AddIP(ctx, user.ID, ip); err != nil {
		log.Printf("Failed to record IP for user %d: %v", user.ID, err)
	}
	if err := a.users.AddFingerprint(ctx, user.ID, fingerprint); err != nil {
		log.Printf("Failed to record fingerprint for user %d: %v", user.ID, err)
	}
	return true
}

func sessionFingerprint(userID int64, authDate, queryID, ip string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d%s%s%s", userID, authDate, queryID, ip)))
	return hex.EncodeToString(sum[:])
}
