package dlna

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxSOAPResponse = 1 << 20

// soapArg is one ordered action argument.
type soapArg struct {
	Name  string
	Value string
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func envelope(serviceType, action string, args []soapArg) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	b.WriteString(`<s:Body>`)
	fmt.Fprintf(&b, `<u:%s xmlns:u="%s">`, action, serviceType)
	for _, a := range args {
		fmt.Fprintf(&b, "<%s>%s</%s>", a.Name, escape(a.Value), a.Name)
	}
	fmt.Fprintf(&b, `</u:%s>`, action)
	b.WriteString(`</s:Body></s:Envelope>`)
	return b.Bytes()
}

// call posts a SOAP action and returns the HTTP status and response body.
func (r *Renderer) call(ctx context.Context, controlURL, serviceType, action string, args []soapArg) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL,
		bytes.NewReader(envelope(serviceType, action, args)))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", fmt.Sprintf(`"%s#%s"`, serviceType, action))
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSOAPResponse))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s: read response: %w", action, err)
	}
	return resp.StatusCode, body, nil
}

// responseValue extracts the text of the first element named name.
func responseValue(body []byte, name string) (string, bool) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", false
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != name {
			continue
		}
		var value string
		if err := dec.DecodeElement(&value, &start); err != nil {
			return "", false
		}
		return strings.TrimSpace(value), true
	}
}
