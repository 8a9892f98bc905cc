package deeplink

import (
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
	"go.uber.org/atomic"
	"moff.io/dapp-wallet/pkg/errors"
	"moff.io/dapp-wallet/pkg/log"
)

var ErrNoLink = errors.New("no deep link opened yet")

const qrCodeSize = 256

// Recorder is the link-open capability of a headless host. It remembers the last link so
// that the user can open it on a phone, by hand or by scanning its QR code.
type Recorder struct {
	latest atomic.String
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Open matches session.OpenLinkFn.
func (r *Recorder) Open(link string) error {
	if link == "" {
		return errors.New("empty deep link")
	}
	r.latest.Store(link)
	log.Infof("deeplink - open %v", link)
	return nil
}

// Latest returns the last opened link, empty before the first Open.
func (r *Recorder) Latest() string {
	return r.latest.Load()
}

// PairingURI extracts the wc: URI from the last link.
func (r *Recorder) PairingURI() (string, error) {
	return PairingURI(r.Latest())
}

// QRCode renders the pairing URI as a PNG, the form wallet apps scan.
func (r *Recorder) QRCode() ([]byte, error) {
	uri, err := r.PairingURI()
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, errors.Wrap(err, "encode qrcode")
	}
	return png, nil
}

// PairingURI returns link itself when it already is a wc: URI, otherwise the value of its
// uri query parameter.
func PairingURI(link string) (string, error) {
	if link == "" {
		return "", ErrNoLink
	}
	if strings.HasPrefix(link, "wc:") {
		return link, nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", errors.Wrap(err, "parse deep link")
	}
	uri := u.Query().Get("uri")
	if !strings.HasPrefix(uri, "wc:") {
		return "", errors.Errorf("deep link %q carries no pairing uri", link)
	}
	return uri, nil
}
