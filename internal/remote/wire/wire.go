// Package wire converts documents to and from the messages exchanged with the sync server.
package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/at-ishikawa/phrasebook/internal/remote"
)

const (
	ServiceName = "phrasebook.sync.v1.SyncService"

	WriteDocumentProcedure = "/" + ServiceName + "/WriteDocument"
	GetDocumentProcedure   = "/" + ServiceName + "/GetDocument"

	// SubscribePath is the websocket endpoint streaming document changes.
	SubscribePath = "/sync/subscribe"
)

// EncodeDocument converts doc into a Struct with path, fields and metadata keys.
func EncodeDocument(doc remote.Document) (*structpb.Struct, error) {
	if doc.Fields == nil {
		doc.Fields = map[string]json.RawMessage{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal(document %s) > %w", doc.Path, err)
	}
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("protojson.Unmarshal(document %s) > %w", doc.Path, err)
	}
	return &s, nil
}

// DecodeDocument is the inverse of EncodeDocument.
func DecodeDocument(s *structpb.Struct) (remote.Document, error) {
	data, err := protojson.Marshal(s)
	if err != nil {
		return remote.Document{}, fmt.Errorf("protojson.Marshal() > %w", err)
	}
	var doc remote.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return remote.Document{}, fmt.Errorf("json.Unmarshal(document) > %w", err)
	}
	return doc, nil
}

// PathRequest builds the GetDocument request message.
func PathRequest(path string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"path": structpb.NewStringValue(path),
	}}
}

// RequestPath reads the path of a GetDocument request.
func RequestPath(s *structpb.Struct) string {
	return s.GetFields()["path"].GetStringValue()
}
