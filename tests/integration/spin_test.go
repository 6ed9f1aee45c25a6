//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
)

const testAPIKey = "integration-test-key"

func int64p(v int64) *int64 { return &v }

func spin(t *testing.T, userID int64, businessID *int64) *http.Response {
	t.Helper()
	return doPost(t, "/api/spin", spinRequest{UserID: userID, BusinessID: businessID})
}

func TestSpin_BusinessFlow(t *testing.T) {
	const user = 1001

	resp := doGet(t, "/api/spin/eligibility?userId=1001&businessId=1")
	el := decodeJSON[eligibilityResponse](t, resp)
	resp.Body.Close()
	if !el.Eligible {
		t.Fatalf("fresh user must be eligible, got %+v", el)
	}

	resp = spin(t, user, int64p(1))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	won := decodeJSON[spinResponse](t, resp)
	resp.Body.Close()

	switch won.Amount {
	case 10, 20, 50:
	default:
		t.Errorf("amount %v is not in the business policy", won.Amount)
	}
	if won.BusinessID == nil || *won.BusinessID != 1 {
		t.Errorf("businessId: got %v, want 1", won.BusinessID)
	}
	if won.BusinessName != "Cafe Mocha" {
		t.Errorf("businessName: got %q", won.BusinessName)
	}

	resp = spin(t, user, int64p(1))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second spin: expected 400, got %d", resp.StatusCode)
	}
	cd := decodeJSON[errorResponse](t, resp)
	resp.Body.Close()
	if cd.Reason != "cooldown" || cd.NextEligibleAt == "" {
		t.Errorf("expected cooldown with nextEligibleAt, got %+v", cd)
	}

	// Other scopes are independent.
	resp = spin(t, user, int64p(2))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("other business: expected 201, got %d", resp.StatusCode)
	}
	resp = spin(t, user, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("global: expected 201, got %d", resp.StatusCode)
	}

	resp = doPost(t, "/api/codes/validate", codeRequest{Code: won.Code, BusinessID: int64p(1)})
	v := decodeJSON[validateResponse](t, resp)
	resp.Body.Close()
	if !v.Valid || v.Amount != won.Amount {
		t.Fatalf("validate: got %+v", v)
	}

	resp = doPost(t, "/api/codes/validate", codeRequest{Code: won.Code, BusinessID: int64p(2)})
	v = decodeJSON[validateResponse](t, resp)
	resp.Body.Close()
	if v.Valid || v.Reason != "not_found" {
		t.Errorf("validate at other business: got %+v", v)
	}

	resp = doPostWithAuth(t, "/api/codes/redeem", codeRequest{Code: won.Code, BusinessID: int64p(1)}, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem: expected 200, got %d", resp.StatusCode)
	}
	r := decodeJSON[redeemResponse](t, resp)
	resp.Body.Close()
	if !r.Success || r.UsedAt == "" {
		t.Errorf("redeem: got %+v", r)
	}

	resp = doPostWithAuth(t, "/api/codes/redeem", codeRequest{Code: won.Code, BusinessID: int64p(1)}, testAPIKey)
	e := decodeJSON[errorResponse](t, resp)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || e.Reason != "used" {
		t.Errorf("second redeem: got %d %+v", resp.StatusCode, e)
	}

	resp = doGet(t, "/api/codes/history?userId=1001&status=used")
	used := decodeJSON[[]historyEntry](t, resp)
	resp.Body.Close()
	if len(used) != 1 || used[0].Code != won.Code || used[0].UsedAt == nil {
		t.Errorf("used history: got %+v", used)
	} else if used[0].BusinessName == nil || *used[0].BusinessName != won.BusinessName {
		t.Errorf("used history businessName: got %v, want %q", used[0].BusinessName, won.BusinessName)
	}

	resp = doGet(t, "/api/codes/history?userId=1001")
	all := decodeJSON[[]historyEntry](t, resp)
	resp.Body.Close()
	if len(all) != 3 {
		t.Errorf("history: got %d entries, want 3", len(all))
	}
}

func TestSpin_DisabledBusiness(t *testing.T) {
	resp := spin(t, 1002, int64p(3))
	defer resp.Body.Close()

	e := decodeJSON[errorResponse](t, resp)
	if resp.StatusCode != http.StatusBadRequest || e.Reason != "spin_disabled" {
		t.Fatalf("got %d %+v", resp.StatusCode, e)
	}
}

func TestSpin_UnknownBusiness(t *testing.T) {
	resp := spin(t, 1003, int64p(999))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSpin_Concurrent(t *testing.T) {
	const attempts = 10
	statuses := make([]int, attempts)

	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := spin(t, 1004, int64p(4))
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}()
	}
	wg.Wait()

	var created int
	for _, s := range statuses {
		if s == http.StatusCreated {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one spin to win, got %d (%v)", created, statuses)
	}
}

func TestRedeem_Auth(t *testing.T) {
	resp := doPost(t, "/api/codes/redeem", codeRequest{Code: "SPIN-NOPE"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: expected 401, got %d", resp.StatusCode)
	}

	resp = doPostWithAuth(t, "/api/codes/redeem", codeRequest{Code: "SPIN-NOPE"}, "wrong-key")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: expected 401, got %d", resp.StatusCode)
	}

	resp = doPostWithAuth(t, "/api/codes/redeem", codeRequest{Code: "SPIN-NOPE"}, testAPIKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown code: expected 404, got %d", resp.StatusCode)
	}
}

func TestSpinSettings_Update(t *testing.T) {
	body := map[string]any{"enabled": true, "rewards": []any{5, "15"}}
	resp := doPutWithAuth(t, "/api/businesses/2/spin-settings", body, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	s := decodeJSON[spinSettingsResponse](t, resp)
	resp.Body.Close()
	if fmt.Sprint(s.Rewards) != "[5 15]" {
		t.Errorf("rewards: got %v", s.Rewards)
	}

	resp = spin(t, 1005, int64p(2))
	won := decodeJSON[spinResponse](t, resp)
	resp.Body.Close()
	if won.Amount != 5 && won.Amount != 15 {
		t.Errorf("amount %v is not in the updated policy", won.Amount)
	}

	resp = doGet(t, "/api/businesses/4/spin-settings")
	s = decodeJSON[spinSettingsResponse](t, resp)
	resp.Body.Close()
	if len(s.Rewards) != 0 || len(s.EffectiveRewards) == 0 {
		t.Errorf("business without policy: got %+v", s)
	}
}
