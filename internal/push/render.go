package push

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// typeFile maps a notification type to its template file stem. Unknown
// types never reach here (filtered by deliveredTypes first).
var typeFile = map[string]string{
	models.NotificationNewCopayer:                "new_copayer",
	models.NotificationWalletComplete:            "wallet_complete",
	models.NotificationNewTxProposal:             "new_tx_proposal",
	models.NotificationNewOutgoingTx:             "new_outgoing_tx",
	models.NotificationNewIncomingTx:             "new_incoming_tx",
	models.NotificationTxProposalFinallyRejected: "tx_proposal_finally_rejected",
}

// rendered is one recipient's rendered notification, decomposed into the
// subject (the template's first line) and body (the rest), for both the
// plain and html variants.
type rendered struct {
	PlainSubject string
	PlainBody    string
	HTMLSubject  string
	HTMLBody     string
}

// renderFor reads <templatesDir>/<language>/<typeFile>.{plain,html},
// falling back to config.DefaultLanguage when the recipient's language has
// no template directory, and renders both variants against data.
func (d *Dispatcher) renderFor(language, notifType string, data map[string]any) (*rendered, error) {
	stem, ok := typeFile[notifType]
	if !ok {
		return nil, fmt.Errorf("push: no template mapped for notification type %q", notifType)
	}
	if language == "" {
		language = config.DefaultLanguage
	}

	plainSubject, plainBody, err := d.renderVariant(language, stem, "plain", data)
	if err != nil {
		return nil, err
	}
	htmlSubject, htmlBody, err := d.renderVariant(language, stem, "html", data)
	if err != nil {
		return nil, err
	}

	return &rendered{
		PlainSubject: plainSubject, PlainBody: plainBody,
		HTMLSubject: htmlSubject, HTMLBody: htmlBody,
	}, nil
}

func (d *Dispatcher) renderVariant(language, stem, ext string, data map[string]any) (subject, body string, err error) {
	path := filepath.Join(d.TemplatesDir, language, stem+"."+ext)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) && language != config.DefaultLanguage {
		path = filepath.Join(d.TemplatesDir, config.DefaultLanguage, stem+"."+ext)
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", "", fmt.Errorf("read template %s: %w", path, err)
	}

	subjectLine, bodyText := splitFirstLine(string(raw))

	tmpl, err := template.New(stem + "." + ext).Delims("{{", "}}").Parse(subjectLine + "\n" + bodyText)
	if err != nil {
		return "", "", fmt.Errorf("parse template %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render template %s: %w", path, err)
	}

	return splitFirstLine(buf.String())
}

func splitFirstLine(s string) (first, rest string) {
	scanner := bufio.NewScanner(strings.NewReader(s))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if scanner.Scan() {
		first = scanner.Text()
	}
	rest = strings.TrimPrefix(s, first)
	rest = strings.TrimPrefix(rest, "\n")
	return first, rest
}

// buildDataBag assembles the template data for one recipient: the
// notification's own data, wallet attributes, the formatted amount (when
// the notification references a proposal), and copayer-name lookups for
// ids the notification data carries (e.g. rejectedBy).
func (d *Dispatcher) buildDataBag(w *models.Wallet, n models.Notification, unit models.Unit) map[string]any {
	bag := make(map[string]any, len(n.Data)+4)
	for k, v := range n.Data {
		bag[k] = v
	}
	bag["walletId"] = w.ID
	bag["walletName"] = w.Name
	bag["m"] = w.M
	bag["n"] = w.N

	if proposalID, ok := n.Data["txProposalId"].(string); ok && proposalID != "" {
		if p, err := d.Storage.GetTxProposal(proposalID); err == nil && p != nil {
			var total int64
			for _, out := range p.Outputs {
				total += out.Amount
			}
			bag["amount"] = formatAmount(total, unit)
		}
	}

	if ids, ok := n.Data["rejectedBy"].([]string); ok {
		bag["rejectorNames"] = copayerNames(w, ids)
	} else if rawIDs, ok := n.Data["rejectedBy"].([]any); ok {
		ids := make([]string, 0, len(rawIDs))
		for _, v := range rawIDs {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
		bag["rejectorNames"] = copayerNames(w, ids)
	}

	return bag
}

func copayerNames(w *models.Wallet, ids []string) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if c := w.CopayerByID(id); c != nil {
			names = append(names, c.Name)
		}
	}
	return strings.Join(names, ", ")
}

// formatAmount renders a satoshi amount in the recipient's preferred unit.
// 1 BTC = 100,000,000 satoshis; 1 bit = 100 satoshis.
func formatAmount(satoshis int64, unit models.Unit) string {
	switch unit {
	case models.UnitBit:
		return fmt.Sprintf("%.2f bits", float64(satoshis)/100)
	default:
		return fmt.Sprintf("%.8f BTC", float64(satoshis)/100_000_000)
	}
}
