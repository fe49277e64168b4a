package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// androidPayload is the Android part of the push body (§4.5): a bare
// title/message pair rather than a platform "notification" block. The pair
// is serialized directly under "android"; there is no "data" wrapper.
type androidPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// iosPayload mirrors APNs' alert shape.
type iosPayload struct {
	Alert string `json:"alert"`
}

// sendRequest is the JSON body posted to pushServerUrl/send.
type sendRequest struct {
	CopayerID string         `json:"copayerId"`
	Android   androidPayload `json:"android"`
	IOS       iosPayload     `json:"ios"`
}

// deliverToRecipient renders the notification for one copayer and posts it
// to the push server. A failure here is the caller's to log and move past —
// it must never stop delivery to the remaining recipients.
func (d *Dispatcher) deliverToRecipient(ctx context.Context, w *models.Wallet, n models.Notification, c models.Copayer, pref models.Preferences) error {
	data := d.buildDataBag(w, n, pref.Unit)

	r, err := d.renderFor(pref.Language, n.Type, data)
	if err != nil {
		return fmt.Errorf("render for copayer %s: %w", c.ID, err)
	}

	body, err := json.Marshal(sendRequest{
		CopayerID: c.ID,
		Android:   androidPayload{Title: r.PlainSubject, Message: r.PlainBody},
		IOS:       iosPayload{Alert: r.PlainSubject},
	})
	if err != nil {
		return fmt.Errorf("marshal push payload for copayer %s: %w", c.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.PushServerURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request for copayer %s: %w", c.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("push request for copayer %s: %w", c.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push server returned HTTP %d for copayer %s", resp.StatusCode, c.ID)
	}
	return nil
}
