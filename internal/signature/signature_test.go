package signature

import (
	"testing"
)

const testAPIKey = "testMerchantApiKey"

func gatewayPayload() map[string]string {
	return map[string]string{
		"amount":   "20.00",
		"currency": "USD",
		"order_id": "f2a5bdbd-9a9a-4b0c-8a4e-1f53bb2b5f71",
		"uuid":     "e1c9a3d4-7b42-4a4e-9f1d-2c8a61a0b9d3",
	}
}

func TestGatewayKnownVector(t *testing.T) {
	// md5("20.00" + "USD" + order_id + uuid + apiKey), values in key order.
	const want = "695fbfbb291c2b8952062d9e921bb2cd"

	got := Gateway(gatewayPayload(), testAPIKey)
	if got != want {
		t.Fatalf("Gateway() = %s, want %s", got, want)
	}
	if !VerifyGateway(gatewayPayload(), want, testAPIKey) {
		t.Fatal("VerifyGateway rejected a valid digest")
	}
}

func TestVerifyGatewayRejectsTampering(t *testing.T) {
	digest := Gateway(gatewayPayload(), testAPIKey)

	tampered := gatewayPayload()
	tampered["amount"] = "15.00"
	if VerifyGateway(tampered, digest, testAPIKey) {
		t.Error("accepted digest for a modified payload")
	}

	if VerifyGateway(gatewayPayload(), digest, "otherKey") {
		t.Error("accepted digest under the wrong key")
	}

	mutated := []byte(digest)
	mutated[0] ^= 1
	if VerifyGateway(gatewayPayload(), string(mutated), testAPIKey) {
		t.Error("accepted a mutated digest")
	}
}

const testBotToken = "7000000001:AAFakeBotTokenForFixtures0123456789a"

func webAppFields() map[string]string {
	return map[string]string{
		"auth_date": "1767225600",
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":      `{"id":7372771,"first_name":"Ada","username":"adalovelace"}`,
	}
}

func TestWebAppKnownVector(t *testing.T) {
	// Two-level derivation: HMAC(HMAC(sha256(botToken), "WebAppData"), checkString).
	const want = "b064857a9e4db9c955d43d5323c933e4767f1e0c583719abf972eb867bf09558"

	got := WebApp(webAppFields(), testBotToken)
	if got != want {
		t.Fatalf("WebApp() = %s, want %s", got, want)
	}
	if !VerifyWebApp(webAppFields(), want, testBotToken) {
		t.Fatal("VerifyWebApp rejected a valid digest")
	}
}

func TestVerifyWebAppRejectsMutations(t *testing.T) {
	digest := WebApp(webAppFields(), testBotToken)

	for key := range webAppFields() {
		fields := webAppFields()
		fields[key] += "x"
		if VerifyWebApp(fields, digest, testBotToken) {
			t.Errorf("accepted digest after mutating field %q", key)
		}
	}

	mutated := []byte(digest)
	mutated[len(mutated)-1] ^= 1
	if VerifyWebApp(webAppFields(), string(mutated), testBotToken) {
		t.Error("accepted a mutated digest")
	}

	if VerifyWebApp(webAppFields(), digest, testBotToken+"x") {
		t.Error("accepted digest under the wrong bot token")
	}
}
