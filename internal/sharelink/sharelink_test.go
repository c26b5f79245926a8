package sharelink

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/otcheredev/ris-dicom-relay/internal/models"
)

func testState() ProjectState {
	created := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	policy := models.DefaultPolicy()
	return ProjectState{
		ID:        "proj-1",
		Name:      "Trial A",
		CreatedAt: &created,
		ServerConfig: &models.ServerConfig{
			URL:      "https://pacs.example/dicom-web",
			AuthType: models.AuthBearer,
			Token:    "secret",
		},
		Policy: &policy,
	}
}

func TestEncodeDecode(t *testing.T) {
	state := testState()
	encoded, err := Encode(state)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Errorf("Encode() = %q, want unpadded base64url", encoded)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(*decoded, state) {
		t.Errorf("Decode() = %+v, want %+v", decoded, state)
	}

	padded := encoded + strings.Repeat("=", (4-len(encoded)%4)%4)
	if _, err := Decode(padded); err != nil {
		t.Errorf("Decode(padded) error = %v", err)
	}
}

func TestDecodeRawBase64Fallback(t *testing.T) {
	raw, _ := json.Marshal(testState())
	for name, encoded := range map[string]string{
		"std":     base64.StdEncoding.EncodeToString(raw),
		"url":     base64.URLEncoding.EncodeToString(raw),
		"raw url": base64.RawURLEncoding.EncodeToString(raw),
	} {
		t.Run(name, func(t *testing.T) {
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if decoded.Name != "Trial A" || decoded.ServerConfig.Token != "secret" {
				t.Errorf("Decode() = %+v", decoded)
			}
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, param := range []string{"!!!", base64.RawURLEncoding.EncodeToString([]byte("not json"))} {
		if _, err := Decode(param); !models.IsKind(err, models.KindConfigurationInvalid) {
			t.Errorf("Decode(%q) error = %v, want ConfigurationInvalid", param, err)
		}
	}
}

func TestURLRoundTrip(t *testing.T) {
	link, err := ToURL("https://relay.example/app?tab=send", testState())
	if err != nil {
		t.Fatalf("ToURL() error = %v", err)
	}

	u, _ := url.Parse(link)
	state, stripped, err := FromURL(u)
	if err != nil {
		t.Fatalf("FromURL() error = %v", err)
	}
	if state.ID != "proj-1" {
		t.Errorf("state = %+v", state)
	}
	if stripped.Query().Has(Param) || stripped.Query().Get("tab") != "send" {
		t.Errorf("stripped URL = %s", stripped)
	}
	if !u.Query().Has(Param) {
		t.Error("FromURL() modified its input")
	}

	if _, _, err := FromURL(stripped); err != ErrNoProject {
		t.Errorf("FromURL() without param = %v, want ErrNoProject", err)
	}
}

func TestProjectStateValidate(t *testing.T) {
	state := testState()
	if err := state.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	state.Policy.DateJitterDays = -1
	if err := state.Validate(); !models.IsKind(err, models.KindConfigurationInvalid) {
		t.Errorf("Validate() = %v, want ConfigurationInvalid", err)
	}
	if err := (&ProjectState{}).Validate(); err == nil {
		t.Error("Validate() of an empty project should fail")
	}
}
