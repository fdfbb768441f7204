package upstream

import (
	"crypto/sha1"
	"encoding/base64"
	"time"

	"github.com/beevik/etree"
	"github.com/gofrs/uuid"

	"github.com/use-go/onvif-proxy/internal/soap"
)

const (
	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	base64BinaryType   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

// passwordDigest creates a WS-Security password digest
func passwordDigest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// secure drops any Security header the NVR sent and, when the camera has
// credentials, adds a fresh UsernameToken for them.
func secure(env *soap.Envelope, username, password string, now time.Time) {
	if h := env.Header(); h != nil {
		for _, sec := range soap.Children(h, "Security") {
			h.RemoveChild(sec)
		}
	}
	if username == "" {
		return
	}

	id := uuid.Must(uuid.NewV4())
	nonce := id.Bytes()
	created := now.UTC().Format("2006-01-02T15:04:05.000Z")

	sec := etree.NewElement("wsse:Security")
	sec.CreateAttr("xmlns:wsse", soap.NamespaceWSSE)
	sec.CreateAttr("xmlns:wsu", soap.NamespaceWSU)
	token := sec.CreateElement("wsse:UsernameToken")
	token.CreateElement("wsse:Username").SetText(username)
	pw := token.CreateElement("wsse:Password")
	pw.CreateAttr("Type", passwordDigestType)
	pw.SetText(passwordDigest(nonce, created, password))
	n := token.CreateElement("wsse:Nonce")
	n.CreateAttr("EncodingType", base64BinaryType)
	n.SetText(base64.StdEncoding.EncodeToString(nonce))
	token.CreateElement("wsu:Created").SetText(created)

	env.EnsureHeader().AddChild(sec)
}
