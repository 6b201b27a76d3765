package signalr

import (
	"encoding/json"
	"fmt"
)

// NegotiationResponseKind discriminates the variant held by a
// NegotiationResponse.
type NegotiationResponseKind int

const (
	// NegotiationKindError: the server refused to open a connection.
	NegotiationKindError NegotiationResponseKind = iota

	// NegotiationKindRedirection: retry negotiation at RedirectURL.
	NegotiationKindRedirection

	// NegotiationKindPayloadV0: legacy negotiate layout (no connectionToken).
	NegotiationKindPayloadV0

	// NegotiationKindPayloadV1: current negotiate layout.
	NegotiationKindPayloadV1
)

// NegotiationResponse is a tagged variant over the four shapes a
// negotiate response can take (spec.md §3). Only the fields relevant to
// Kind are meaningful; callers should branch on Kind rather than
// inspecting fields directly.
type NegotiationResponse struct {
	Kind NegotiationResponseKind

	// Populated when Kind == NegotiationKindError.
	ErrorMessage string

	// Populated when Kind == NegotiationKindRedirection.
	RedirectURL         string
	RedirectAccessToken string

	// Populated when Kind is PayloadV0 or PayloadV1.
	ConnectionID        string
	AvailableTransports []TransportDescription

	// Populated only when Kind == NegotiationKindPayloadV1.
	ConnectionToken string
}

// IsError reports whether the response is the error variant.
func (r *NegotiationResponse) IsError() bool { return r.Kind == NegotiationKindError }

// IsRedirection reports whether the response is the redirection variant.
func (r *NegotiationResponse) IsRedirection() bool { return r.Kind == NegotiationKindRedirection }

// IsPayload reports whether the response carries a connection payload
// (either legacy or current layout).
func (r *NegotiationResponse) IsPayload() bool {
	return r.Kind == NegotiationKindPayloadV0 || r.Kind == NegotiationKindPayloadV1
}

// RoutingID returns the identifier that should be sent as the `id` query
// parameter on subsequent requests: the connection token when present
// (v1), else the connection id (v0). Only meaningful when IsPayload().
func (r *NegotiationResponse) RoutingID() string {
	if r.Kind == NegotiationKindPayloadV1 && r.ConnectionToken != "" {
		return r.ConnectionToken
	}
	return r.ConnectionID
}

// DecodeNegotiationResponse decodes a negotiate response body per
// spec.md §4.1's discriminated-union algorithm. Discrimination order:
// "error" key present -> error; else "url" key present -> redirection;
// else the payload shape keyed by "negotiateVersion".
func DecodeNegotiationResponse(data []byte) (*NegotiationResponse, error) {
	var root interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, &DecodeError{Kind: DecodeTypeMismatch, Debug: err.Error()}
	}

	obj, ok := root.(map[string]interface{})
	if !ok {
		return nil, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Debug: fmt.Sprintf("expected object, found %s", jsonTypeName(root)),
		}
	}

	if v, present := obj["error"]; present {
		msg, ok := v.(string)
		if !ok {
			return nil, &DecodeError{
				Kind:  DecodeTypeMismatch,
				Path:  []interface{}{"error"},
				Debug: fmt.Sprintf("expected string, found %s", jsonTypeName(v)),
			}
		}
		return &NegotiationResponse{Kind: NegotiationKindError, ErrorMessage: msg}, nil
	}

	if v, present := obj["url"]; present {
		return decodeRedirection(obj, v)
	}

	return decodePayload(obj)
}

func decodeRedirection(obj map[string]interface{}, urlValue interface{}) (*NegotiationResponse, error) {
	if urlValue == nil {
		return nil, &DecodeError{Kind: DecodeValueNotFound, Path: []interface{}{"url"}, Debug: "url was null"}
	}
	urlStr, ok := urlValue.(string)
	if !ok {
		return nil, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Path:  []interface{}{"url"},
			Debug: fmt.Sprintf("expected string, found %s", jsonTypeName(urlValue)),
		}
	}

	tokenValue, present := obj["accessToken"]
	if !present {
		return nil, &DecodeError{Kind: DecodeKeyNotFound, Path: []interface{}{"accessToken"}, Debug: "required key not found"}
	}
	token, ok := tokenValue.(string)
	if !ok {
		return nil, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Path:  []interface{}{"accessToken"},
			Debug: fmt.Sprintf("expected string, found %s", jsonTypeName(tokenValue)),
		}
	}

	return &NegotiationResponse{
		Kind:                NegotiationKindRedirection,
		RedirectURL:         urlStr,
		RedirectAccessToken: token,
	}, nil
}

func decodePayload(obj map[string]interface{}) (*NegotiationResponse, error) {
	versionValue, present := obj["negotiateVersion"]
	if !present {
		return nil, &DecodeError{Kind: DecodeKeyNotFound, Path: []interface{}{"negotiateVersion"}, Debug: "required key not found"}
	}
	versionFloat, ok := versionValue.(float64)
	if !ok {
		return nil, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Path:  []interface{}{"negotiateVersion"},
			Debug: fmt.Sprintf("expected int, found %s", jsonTypeName(versionValue)),
		}
	}
	version := int(versionFloat)

	connIDValue, present := obj["connectionId"]
	if !present {
		return nil, &DecodeError{Kind: DecodeKeyNotFound, Path: []interface{}{"connectionId"}, Debug: "required key not found"}
	}
	connID, ok := connIDValue.(string)
	if !ok {
		return nil, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Path:  []interface{}{"connectionId"},
			Debug: fmt.Sprintf("expected string, found %s", jsonTypeName(connIDValue)),
		}
	}

	var connToken string
	if version >= 1 {
		tokenValue, present := obj["connectionToken"]
		if !present {
			return nil, &DecodeError{Kind: DecodeKeyNotFound, Path: []interface{}{"connectionToken"}, Debug: "required key not found"}
		}
		connToken, ok = tokenValue.(string)
		if !ok {
			return nil, &DecodeError{
				Kind:  DecodeTypeMismatch,
				Path:  []interface{}{"connectionToken"},
				Debug: fmt.Sprintf("expected string, found %s", jsonTypeName(tokenValue)),
			}
		}
	}

	transportsValue, present := obj["availableTransports"]
	if !present {
		return nil, &DecodeError{Kind: DecodeKeyNotFound, Path: []interface{}{"availableTransports"}, Debug: "required key not found"}
	}
	transportsArray, ok := transportsValue.([]interface{})
	if !ok {
		return nil, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Path:  []interface{}{"availableTransports"},
			Debug: fmt.Sprintf("expected array, found %s", jsonTypeName(transportsValue)),
		}
	}

	descriptions := make([]TransportDescription, 0, len(transportsArray))
	for i, entry := range transportsArray {
		desc, err := decodeTransportDescription(entry, i)
		if err != nil {
			return nil, err
		}
		descriptions = append(descriptions, desc)
	}

	resp := &NegotiationResponse{
		ConnectionID:        connID,
		AvailableTransports: descriptions,
	}
	if version >= 1 {
		resp.Kind = NegotiationKindPayloadV1
		resp.ConnectionToken = connToken
	} else {
		resp.Kind = NegotiationKindPayloadV0
	}
	return resp, nil
}

func decodeTransportDescription(entry interface{}, index int) (TransportDescription, error) {
	entryObj, ok := entry.(map[string]interface{})
	if !ok {
		return TransportDescription{}, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Path:  []interface{}{"availableTransports", index},
			Debug: fmt.Sprintf("expected object, found %s", jsonTypeName(entry)),
		}
	}

	kindValue, present := entryObj["transport"]
	if !present {
		return TransportDescription{}, &DecodeError{
			Kind:  DecodeKeyNotFound,
			Path:  []interface{}{"availableTransports", index, "transport"},
			Debug: "required key not found",
		}
	}
	kindStr, ok := kindValue.(string)
	if !ok {
		return TransportDescription{}, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Path:  []interface{}{"availableTransports", index, "transport"},
			Debug: fmt.Sprintf("expected string, found %s", jsonTypeName(kindValue)),
		}
	}
	kind, err := ParseTransportKind(kindStr)
	if err != nil {
		return TransportDescription{}, &DecodeError{
			Kind:  DecodeDataCorrupted,
			Path:  []interface{}{"availableTransports", index, "transport"},
			Debug: err.Error(),
		}
	}

	formatsValue, present := entryObj["transferFormats"]
	if !present {
		return TransportDescription{}, &DecodeError{
			Kind:  DecodeKeyNotFound,
			Path:  []interface{}{"availableTransports", index, "transferFormats"},
			Debug: "required key not found",
		}
	}
	formatsArray, ok := formatsValue.([]interface{})
	if !ok {
		return TransportDescription{}, &DecodeError{
			Kind:  DecodeTypeMismatch,
			Path:  []interface{}{"availableTransports", index, "transferFormats"},
			Debug: fmt.Sprintf("expected array, found %s", jsonTypeName(formatsValue)),
		}
	}

	formats := make([]TransferFormat, 0, len(formatsArray))
	for j, fv := range formatsArray {
		fs, ok := fv.(string)
		if !ok {
			return TransportDescription{}, &DecodeError{
				Kind:  DecodeTypeMismatch,
				Path:  []interface{}{"availableTransports", index, "transferFormats", j},
				Debug: fmt.Sprintf("expected string, found %s", jsonTypeName(fv)),
			}
		}
		format, err := ParseTransferFormat(fs)
		if err != nil {
			return TransportDescription{}, &DecodeError{
				Kind:  DecodeDataCorrupted,
				Path:  []interface{}{"availableTransports", index, "transferFormats", j},
				Debug: err.Error(),
			}
		}
		formats = append(formats, format)
	}

	return TransportDescription{Kind: kind, Formats: formats}, nil
}

func jsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return "unknown"
	}
}
