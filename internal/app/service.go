package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"mosaic/api/internal/auth"
	"mosaic/api/internal/authpw"
	"mosaic/api/internal/blob"
	"mosaic/api/internal/config"
	"mosaic/api/internal/content"
	"mosaic/api/internal/export"
	"mosaic/api/internal/revision"
	"mosaic/api/internal/search"
	"mosaic/api/internal/session"
	"mosaic/api/internal/store"
	"mosaic/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document, string) error
	TouchDocument(context.Context, string, string) error

	ListContentByDocument(context.Context, string) ([]store.ContentRow, error)
	ListContentFieldsByDocument(context.Context, string) ([]store.ContentFieldRow, error)
	InsertContent(context.Context, string, string, string, string) error
	DeleteContent(context.Context, string) error
	ReorderContent(context.Context, string, []string) error
	MoveContent(context.Context, string, string, int) error
	InsertContentField(context.Context, string, string, string, string) error
	UpdateContentField(context.Context, string, string) error
	DeleteContentField(context.Context, string) error

	ListDatatypes(context.Context) ([]store.Datatype, error)
	ListDatatypeFields(context.Context, string) ([]store.DatatypeField, error)
	ListFieldDefinitions(context.Context) ([]store.FieldDefinition, error)
	InsertDatatype(context.Context, store.Datatype) error
	InsertFieldDefinition(context.Context, store.FieldDefinition) error
	InsertDatatypeField(context.Context, store.DatatypeField) error
}

type draftStore interface {
	SaveDraft(ctx context.Context, userID, documentID string, edits map[string]map[string]string) error
	LoadDraft(ctx context.Context, userID, documentID string) (session.Draft, error)
	DeleteDraft(ctx context.Context, userID, documentID string) error
}

type revisionStore interface {
	EnsureDocumentRepo(documentID string, initial revision.Snapshot, author string) error
	CommitSnapshot(documentID string, snapshot revision.Snapshot, author, message string) (revision.CommitInfo, error)
	History(documentID string, limit int) ([]revision.CommitInfo, error)
	SnapshotByHash(documentID, hash string) (revision.Snapshot, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexBlock(b search.BlockRecord)
	DeleteDocument(id string)
	DeleteBlock(id string)
}

type exporter interface {
	Export(doc export.Document, format export.Format) (*export.Result, error)
}

type artifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	PresignedURL(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

type editorKey struct {
	userID     string
	documentID string
}

// editorState pairs one editor's session with the mutex that serializes
// concurrent requests touching it. EditSession itself is single-writer, so
// every use of the session must hold mu.
type editorState struct {
	mu      sync.Mutex
	session *content.EditSession
}

type Service struct {
	cfg       config.Config
	store     dataStore
	drafts    draftStore
	revisions revisionStore
	search    searchIndex
	exporter  exporter
	artifacts artifactStore
	authPw    *authpw.Service
	signer    *auth.Signer

	editMu  sync.Mutex
	editors map[editorKey]*editorState
}

func New(cfg config.Config, dataStore *store.PostgresStore, drafts *session.DraftStore, revisions *revision.Service, searchSvc *search.Service, exportSvc *export.Service, authPw *authpw.Service) *Service {
	s := &Service{
		cfg:     cfg,
		store:   dataStore,
		authPw:  authPw,
		signer:  auth.NewSigner(cfg.JWTSecret),
		editors: make(map[editorKey]*editorState),
	}
	// Assign optional collaborators only when present so interface fields
	// stay nil-checkable.
	if drafts != nil {
		s.drafts = drafts
	}
	if revisions != nil {
		s.revisions = revisions
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if exportSvc != nil {
		s.exporter = exportSvc
	}
	return s
}

// SetArtifactStore enables presigned-link exports backed by object storage.
func (s *Service) SetArtifactStore(artifacts *blob.Store) {
	if artifacts != nil {
		s.artifacts = artifacts
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPw
}

// ---- sessions ----

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "Editor"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := s.signer.Issue(auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- schema ----

type schema struct {
	definitions []content.FieldDefinition
	assignments map[string][]content.Assignment
}

func (s *Service) loadSchema(ctx context.Context) (*schema, error) {
	defRows, err := s.store.ListFieldDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	definitions := make([]content.FieldDefinition, 0, len(defRows))
	for _, row := range defRows {
		definitions = append(definitions, content.FieldDefinition{
			ID:         row.ID,
			Label:      row.Label,
			Type:       row.Type,
			Validation: row.Validation,
			UIConfig:   row.UIConfig,
			ExtraData:  row.ExtraData,
		})
	}

	datatypes, err := s.store.ListDatatypes(ctx)
	if err != nil {
		return nil, err
	}
	assignments := make(map[string][]content.Assignment, len(datatypes))
	for _, datatype := range datatypes {
		rows, err := s.store.ListDatatypeFields(ctx, datatype.ID)
		if err != nil {
			return nil, err
		}
		converted := make([]content.Assignment, 0, len(rows))
		for _, row := range rows {
			converted = append(converted, content.Assignment{
				ID:         row.ID,
				DatatypeID: row.DatatypeID,
				FieldID:    row.FieldID,
				SortOrder:  row.SortOrder,
			})
		}
		assignments[datatype.ID] = converted
	}

	return &schema{definitions: definitions, assignments: assignments}, nil
}

func (sc *schema) forDatatype(datatypeID string) []content.Assignment {
	return sc.assignments[datatypeID]
}

// ---- tree loading ----

func (s *Service) loadTree(ctx context.Context, documentID string) (store.Document, *content.Tree, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, nil, err
	}

	rows, err := s.store.ListContentByDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, nil, err
	}
	fieldRows, err := s.store.ListContentFieldsByDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, nil, err
	}
	datatypes, err := s.store.ListDatatypes(ctx)
	if err != nil {
		return store.Document{}, nil, err
	}

	tree, err := buildTree(doc.RootID, rows, fieldRows, datatypes)
	if err != nil {
		return store.Document{}, nil, err
	}
	return doc, tree, nil
}

// buildTree assembles content rows into a content.Tree. Rows arrive ordered
// by (parent, sort_order), so child slices come out in sibling order.
func buildTree(rootID string, rows []store.ContentRow, fieldRows []store.ContentFieldRow, datatypes []store.Datatype) (*content.Tree, error) {
	nodes := make(map[string]*content.Node, len(rows))
	for _, row := range rows {
		nodes[row.ID] = &content.Node{ID: row.ID, DatatypeID: row.DatatypeID}
	}

	for _, fieldRow := range fieldRows {
		node, ok := nodes[fieldRow.ContentID]
		if !ok {
			continue
		}
		node.Fields = append(node.Fields, content.FieldValue{
			ID:         fieldRow.ID,
			FieldID:    fieldRow.FieldID,
			Value:      fieldRow.Value,
			Label:      fieldRow.Label,
			Type:       fieldRow.Type,
			Validation: fieldRow.Validation,
			UIConfig:   fieldRow.UIConfig,
			ExtraData:  fieldRow.ExtraData,
			CreatedAt:  fieldRow.CreatedAt,
		})
	}

	for _, row := range rows {
		if row.ParentID == nil {
			continue
		}
		parent, ok := nodes[*row.ParentID]
		if !ok {
			return nil, fmt.Errorf("content row %s references missing parent %s", row.ID, *row.ParentID)
		}
		parent.Children = append(parent.Children, nodes[row.ID])
	}

	root, ok := nodes[rootID]
	if !ok {
		return nil, fmt.Errorf("document root %s missing from content rows", rootID)
	}

	labels := make(map[string]string, len(datatypes))
	for _, datatype := range datatypes {
		labels[datatype.ID] = datatype.Label
	}
	return content.NewTree(root, labels)
}

// ---- edit sessions ----

// editor returns the state for one editor and document, rehydrating the
// session from the draft store on first touch. Callers hold state.mu for the
// whole time they use the session.
func (s *Service) editor(ctx context.Context, userID, documentID string) *editorState {
	s.editMu.Lock()
	defer s.editMu.Unlock()

	key := editorKey{userID: userID, documentID: documentID}
	if existing, ok := s.editors[key]; ok {
		return existing
	}

	state := &editorState{session: content.NewEditSession()}
	if s.drafts != nil {
		if draft, err := s.drafts.LoadDraft(ctx, userID, documentID); err == nil {
			for nodeID, fields := range draft.Edits {
				state.session.RestoreEdits(nodeID, fields)
			}
		}
	}
	s.editors[key] = state
	return state
}

func (s *Service) persistDraft(ctx context.Context, userID, documentID string, editSession *content.EditSession) {
	if s.drafts == nil {
		return
	}
	_ = s.drafts.SaveDraft(ctx, userID, documentID, editSession.AllEdits())
}

// ---- documents ----

func (s *Service) ListDocuments(ctx context.Context) ([]map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, map[string]any{
			"id":        doc.ID,
			"title":     doc.Title,
			"rootId":    doc.RootID,
			"updatedBy": doc.UpdatedBy,
			"updatedAt": doc.UpdatedAt,
		})
	}
	return items, nil
}

func (s *Service) CreateDocument(ctx context.Context, sess Session, title, rootDatatypeID string) (map[string]any, error) {
	documentTitle := strings.TrimSpace(title)
	if documentTitle == "" {
		documentTitle = "Untitled Document"
	}
	if strings.TrimSpace(rootDatatypeID) == "" {
		rootDatatypeID = "dt_page"
	}

	doc := store.Document{
		ID:        util.NewID("doc"),
		Title:     documentTitle,
		RootID:    util.NewID("blk"),
		UpdatedBy: sess.UserName,
	}
	if err := s.store.InsertDocument(ctx, doc, rootDatatypeID); err != nil {
		return nil, err
	}

	if s.revisions != nil {
		initial := revision.Snapshot{
			Title: documentTitle,
			Root:  &revision.SnapshotNode{ID: doc.RootID, Datatype: rootDatatypeID},
		}
		if err := s.revisions.EnsureDocumentRepo(doc.ID, initial, sess.UserName); err != nil {
			return nil, err
		}
	}
	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{ID: doc.ID, Title: documentTitle})
	}

	return s.DocumentView(ctx, sess, doc.ID)
}

// DocumentView returns the full editable tree for one document: merged
// fields per node with the editor's local edits layered on top.
func (s *Service) DocumentView(ctx context.Context, sess Session, documentID string) (map[string]any, error) {
	doc, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	sc, err := s.loadSchema(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := tree.CollectSubtree(tree.Root().ID)
	if err != nil {
		return nil, err
	}

	editor := s.editor(ctx, sess.UserID, documentID)
	editor.mu.Lock()
	rootView := s.treeView(tree, nodes, sc, editor.session)
	editor.mu.Unlock()

	return map[string]any{
		"id":        doc.ID,
		"title":     doc.Title,
		"updatedBy": doc.UpdatedBy,
		"updatedAt": doc.UpdatedAt,
		"root":      rootView,
	}, nil
}

// treeView renders the whole document from its pre-order node list. Walking
// the list in reverse visits children before parents, so child views are
// already built when their parent needs them and depth never touches the
// call stack.
func (s *Service) treeView(tree *content.Tree, nodes []*content.Node, sc *schema, editSession *content.EditSession) map[string]any {
	if len(nodes) == 0 {
		return nil
	}
	views := make(map[string]map[string]any, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		node := nodes[i]
		merged := content.MergeFields(node, sc.forDatatype(node.DatatypeID), sc.definitions)

		fields := make([]map[string]any, 0, len(merged))
		for j := range merged {
			field := &merged[j]
			fields = append(fields, map[string]any{
				"fieldId":    field.FieldID,
				"label":      field.Label,
				"type":       field.Type,
				"validation": field.Validation,
				"uiConfig":   field.UIConfig,
				"extraData":  field.ExtraData,
				"value":      editSession.GetValue(node.ID, field.FieldID, merged),
				"persisted":  field.Persisted != nil && field.Persisted.ID != "",
			})
		}

		children := make([]map[string]any, 0, len(node.Children))
		for _, child := range node.Children {
			children = append(children, views[child.ID])
		}

		label, _ := tree.FindLabel(node.ID)
		views[node.ID] = map[string]any{
			"id":       node.ID,
			"datatype": node.DatatypeID,
			"label":    label,
			"dirty":    editSession.IsNodeDirty(node.ID, merged),
			"fields":   fields,
			"children": children,
		}
	}
	return views[nodes[0].ID]
}

// Datatypes returns the schema catalog: every datatype with its assigned
// field definitions in display order.
func (s *Service) Datatypes(ctx context.Context) ([]map[string]any, error) {
	datatypes, err := s.store.ListDatatypes(ctx)
	if err != nil {
		return nil, err
	}
	definitions, err := s.store.ListFieldDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.FieldDefinition, len(definitions))
	for _, definition := range definitions {
		byID[definition.ID] = definition
	}

	items := make([]map[string]any, 0, len(datatypes))
	for _, datatype := range datatypes {
		assignments, err := s.store.ListDatatypeFields(ctx, datatype.ID)
		if err != nil {
			return nil, err
		}
		fields := make([]map[string]any, 0, len(assignments))
		for _, assignment := range assignments {
			definition := byID[assignment.FieldID]
			fields = append(fields, map[string]any{
				"fieldId":   assignment.FieldID,
				"label":     definition.Label,
				"type":      definition.Type,
				"sortOrder": assignment.SortOrder,
			})
		}
		items = append(items, map[string]any{
			"id":     datatype.ID,
			"alias":  datatype.Alias,
			"label":  datatype.Label,
			"fields": fields,
		})
	}
	return items, nil
}

// ---- structural operations ----

func (s *Service) InsertBlock(ctx context.Context, sess Session, documentID, parentID, datatypeID string) (map[string]any, error) {
	_, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	intent, err := tree.InsertChild(parentID, datatypeID)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertContent(ctx, util.NewID("blk"), documentID, intent.DatatypeID, intent.ParentID); err != nil {
		return nil, err
	}
	if err := s.store.TouchDocument(ctx, documentID, sess.UserName); err != nil {
		return nil, err
	}
	return s.DocumentView(ctx, sess, documentID)
}

func (s *Service) DeleteBlock(ctx context.Context, sess Session, documentID, nodeID string) (map[string]any, error) {
	_, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	intents, err := tree.DeleteSubtree(nodeID)
	if err != nil {
		return nil, err
	}
	// Intent order is deepest-first; applying sequentially keeps the stored
	// tree consistent under a mid-sequence failure.
	for _, intent := range intents {
		if intent.FieldValueID != "" {
			if err := s.store.DeleteContentField(ctx, intent.FieldValueID); err != nil {
				return nil, err
			}
			continue
		}
		if err := s.store.DeleteContent(ctx, intent.NodeID); err != nil {
			return nil, err
		}
		if s.search != nil {
			s.search.DeleteBlock(intent.NodeID)
		}
	}
	if err := s.store.TouchDocument(ctx, documentID, sess.UserName); err != nil {
		return nil, err
	}
	return s.DocumentView(ctx, sess, documentID)
}

func (s *Service) ReorderBlocks(ctx context.Context, sess Session, documentID, parentID string, orderedIDs []string) (map[string]any, error) {
	_, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	intent, err := tree.ReorderSiblings(parentID, orderedIDs)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReorderContent(ctx, intent.ParentID, intent.OrderedIDs); err != nil {
		return nil, err
	}
	if err := s.store.TouchDocument(ctx, documentID, sess.UserName); err != nil {
		return nil, err
	}
	return s.DocumentView(ctx, sess, documentID)
}

func (s *Service) MoveBlock(ctx context.Context, sess Session, documentID, nodeID, newParentID string, position int) (map[string]any, error) {
	_, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	intent, err := tree.MoveNode(nodeID, newParentID, position)
	if err != nil {
		return nil, err
	}
	return s.applyMove(ctx, sess, documentID, intent)
}

func (s *Service) DropBlock(ctx context.Context, sess Session, documentID, nodeID string, target content.DropTarget) (map[string]any, error) {
	_, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	intent, err := tree.MoveForDrop(nodeID, target)
	if err != nil {
		return nil, err
	}
	return s.applyMove(ctx, sess, documentID, intent)
}

func (s *Service) applyMove(ctx context.Context, sess Session, documentID string, intent content.MoveIntent) (map[string]any, error) {
	if err := s.store.MoveContent(ctx, intent.NodeID, intent.NewParentID, intent.Position); err != nil {
		return nil, err
	}
	if err := s.store.TouchDocument(ctx, documentID, sess.UserName); err != nil {
		return nil, err
	}
	return s.DocumentView(ctx, sess, documentID)
}

// ---- field editing ----

func (s *Service) EditField(ctx context.Context, sess Session, documentID, nodeID, fieldID, value string) (map[string]any, error) {
	_, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	node, ok := tree.Node(nodeID)
	if !ok {
		return nil, &content.NotFoundError{NodeID: nodeID}
	}
	sc, err := s.loadSchema(ctx)
	if err != nil {
		return nil, err
	}

	merged := content.MergeFields(node, sc.forDatatype(node.DatatypeID), sc.definitions)

	editor := s.editor(ctx, sess.UserID, documentID)
	editor.mu.Lock()
	editor.session.SetValue(nodeID, fieldID, value)
	s.persistDraft(ctx, sess.UserID, documentID, editor.session)
	current := editor.session.GetValue(nodeID, fieldID, merged)
	dirty := editor.session.IsNodeDirty(nodeID, merged)
	editor.mu.Unlock()

	return map[string]any{
		"nodeId":  nodeID,
		"fieldId": fieldID,
		"value":   current,
		"dirty":   dirty,
	}, nil
}

func (s *Service) DiscardBlockEdits(ctx context.Context, sess Session, documentID, nodeID string) (map[string]any, error) {
	editor := s.editor(ctx, sess.UserID, documentID)
	editor.mu.Lock()
	editor.session.DiscardNode(nodeID)
	s.persistDraft(ctx, sess.UserID, documentID, editor.session)
	editor.mu.Unlock()
	return s.DocumentView(ctx, sess, documentID)
}

// contentFieldWriter adapts the store to the field-save interface, assigning
// ids for new rows.
type contentFieldWriter struct {
	store dataStore
}

func (w *contentFieldWriter) CreateContentField(ctx context.Context, nodeID, fieldID, value string) error {
	return w.store.InsertContentField(ctx, util.NewID("cf"), nodeID, fieldID, value)
}

func (w *contentFieldWriter) UpdateContentField(ctx context.Context, contentFieldID, value string) error {
	return w.store.UpdateContentField(ctx, contentFieldID, value)
}

// SaveBlock persists one node's touched edits. With force set, the
// whole-document rules apply: empty persisted refs count as unpersisted and
// empty new values are never created.
func (s *Service) SaveBlock(ctx context.Context, sess Session, documentID, nodeID string, force bool) (map[string]any, error) {
	_, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	node, ok := tree.Node(nodeID)
	if !ok {
		return nil, &content.NotFoundError{NodeID: nodeID}
	}
	sc, err := s.loadSchema(ctx)
	if err != nil {
		return nil, err
	}
	merged := content.MergeFields(node, sc.forDatatype(node.DatatypeID), sc.definitions)
	writer := &contentFieldWriter{store: s.store}

	editor := s.editor(ctx, sess.UserID, documentID)
	editor.mu.Lock()
	if force {
		err = editor.session.SaveForce(ctx, nodeID, merged, writer)
	} else {
		err = editor.session.Save(ctx, nodeID, merged, writer)
	}
	// On failure the session keeps its edits; mirror them either way so a
	// crash right now loses nothing.
	s.persistDraft(ctx, sess.UserID, documentID, editor.session)
	editor.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.store.TouchDocument(ctx, documentID, sess.UserName); err != nil {
		return nil, err
	}
	s.afterSave(ctx, sess, documentID, nodeID)
	return s.DocumentView(ctx, sess, documentID)
}

// SaveDocument force-saves every node that carries edits, in tree pre-order.
func (s *Service) SaveDocument(ctx context.Context, sess Session, documentID string) (map[string]any, error) {
	_, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	sc, err := s.loadSchema(ctx)
	if err != nil {
		return nil, err
	}
	writer := &contentFieldWriter{store: s.store}

	nodes, err := tree.CollectSubtree(tree.Root().ID)
	if err != nil {
		return nil, err
	}

	editor := s.editor(ctx, sess.UserID, documentID)
	editor.mu.Lock()
	for _, node := range nodes {
		merged := content.MergeFields(node, sc.forDatatype(node.DatatypeID), sc.definitions)
		if err := editor.session.SaveForce(ctx, node.ID, merged, writer); err != nil {
			s.persistDraft(ctx, sess.UserID, documentID, editor.session)
			editor.mu.Unlock()
			return nil, err
		}
	}
	s.persistDraft(ctx, sess.UserID, documentID, editor.session)
	editor.mu.Unlock()

	if err := s.store.TouchDocument(ctx, documentID, sess.UserName); err != nil {
		return nil, err
	}
	s.afterSave(ctx, sess, documentID, "")
	return s.DocumentView(ctx, sess, documentID)
}

// afterSave records a revision snapshot and refreshes the search index from
// the post-save state. Both are best-effort; the save itself has landed.
func (s *Service) afterSave(ctx context.Context, sess Session, documentID, nodeID string) {
	doc, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return
	}
	sc, err := s.loadSchema(ctx)
	if err != nil {
		return
	}

	if s.revisions != nil {
		message := "Save document"
		if nodeID != "" {
			if label, ok := tree.FindLabel(nodeID); ok {
				message = fmt.Sprintf("Save %s block", label)
			}
		}
		snapshot := snapshotFromTree(doc.Title, tree, sc)
		_ = s.revisions.EnsureDocumentRepo(documentID, snapshot, sess.UserName)
		if _, err := s.revisions.CommitSnapshot(documentID, snapshot, sess.UserName, message); err != nil {
			return
		}
	}

	if s.search != nil {
		nodes, err := tree.CollectSubtree(tree.Root().ID)
		if err != nil {
			return
		}
		for _, node := range nodes {
			if nodeID != "" && node.ID != nodeID {
				continue
			}
			record := blockRecord(documentID, tree, node, sc)
			if record.Body == "" {
				continue
			}
			s.search.IndexBlock(record)
		}
	}
}

// snapshotFromTree converts the merged tree into a revision snapshot,
// building nodes in reverse pre-order so children exist before the parent
// that links them.
func snapshotFromTree(title string, tree *content.Tree, sc *schema) revision.Snapshot {
	nodes, err := tree.CollectSubtree(tree.Root().ID)
	if err != nil {
		return revision.Snapshot{Title: title}
	}
	converted := make(map[string]*revision.SnapshotNode, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		node := nodes[i]
		merged := content.MergeFields(node, sc.forDatatype(node.DatatypeID), sc.definitions)
		fields := make(map[string]string)
		for j := range merged {
			if merged[j].Value != "" {
				fields[merged[j].FieldID] = merged[j].Value
			}
		}
		snapshotNode := &revision.SnapshotNode{
			ID:       node.ID,
			Datatype: node.DatatypeID,
			Fields:   fields,
		}
		for _, child := range node.Children {
			snapshotNode.Children = append(snapshotNode.Children, converted[child.ID])
		}
		converted[node.ID] = snapshotNode
	}
	return revision.Snapshot{Title: title, Root: converted[tree.Root().ID]}
}

func blockRecord(documentID string, tree *content.Tree, node *content.Node, sc *schema) search.BlockRecord {
	merged := content.MergeFields(node, sc.forDatatype(node.DatatypeID), sc.definitions)
	var parts []string
	label := ""
	for i := range merged {
		if merged[i].Value == "" {
			continue
		}
		parts = append(parts, merged[i].Value)
		if label == "" {
			label = merged[i].Value
		}
	}
	datatypeLabel, _ := tree.FindLabel(node.ID)
	return search.BlockRecord{
		ID:         node.ID,
		Body:       strings.Join(parts, " "),
		Label:      label,
		Datatype:   datatypeLabel,
		DocumentID: documentID,
	}
}

// ---- history ----

func (s *Service) History(ctx context.Context, documentID string, limit int) ([]revision.CommitInfo, error) {
	if s.revisions == nil {
		return nil, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revision history not configured", nil)
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.revisions.History(documentID, limit)
}

func (s *Service) SnapshotAt(ctx context.Context, documentID, hash string) (revision.Snapshot, error) {
	if s.revisions == nil {
		return revision.Snapshot{}, domainError(http.StatusServiceUnavailable, "REVISIONS_UNAVAILABLE", "Revision history not configured", nil)
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return revision.Snapshot{}, err
	}
	return s.revisions.SnapshotByHash(documentID, hash)
}

// ---- search ----

func (s *Service) Search(ctx context.Context, text, filterType, documentID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:             text,
		FilterType:       search.ResultType(filterType),
		FilterDocumentID: documentID,
		Limit:            limit,
		Offset:           offset,
	}), nil
}

// ---- export ----

func (s *Service) ExportDocument(ctx context.Context, documentID string, format export.Format) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	doc, tree, err := s.loadTree(ctx, documentID)
	if err != nil {
		return nil, err
	}
	sc, err := s.loadSchema(ctx)
	if err != nil {
		return nil, err
	}

	nodes, err := tree.CollectSubtree(tree.Root().ID)
	if err != nil {
		return nil, err
	}
	blocks := make(map[string]*export.Block, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		node := nodes[i]
		merged := content.MergeFields(node, sc.forDatatype(node.DatatypeID), sc.definitions)
		fields := make([]export.Field, 0, len(merged))
		for j := range merged {
			fields = append(fields, export.Field{
				Label: merged[j].Label,
				Type:  merged[j].Type,
				Value: merged[j].Value,
			})
		}
		datatypeLabel, _ := tree.FindLabel(node.ID)
		block := &export.Block{ID: node.ID, Datatype: datatypeLabel, Fields: fields}
		for _, child := range node.Children {
			block.Children = append(block.Children, blocks[child.ID])
		}
		blocks[node.ID] = block
	}

	return s.exporter.Export(export.Document{
		ID:        doc.ID,
		Title:     doc.Title,
		Author:    doc.UpdatedBy,
		UpdatedAt: doc.UpdatedAt,
		Root:      blocks[tree.Root().ID],
	}, format)
}

// ExportDocumentLink exports and uploads the artifact to object storage,
// returning a time-limited download link instead of streaming the bytes.
func (s *Service) ExportDocumentLink(ctx context.Context, documentID string, format export.Format) (map[string]any, error) {
	if s.artifacts == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Artifact storage not configured", nil)
	}
	result, err := s.ExportDocument(ctx, documentID, format)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("exports/%s/%s-%s", documentID, util.NewID("exp"), result.Filename)
	if _, err := s.artifacts.Put(ctx, key, result.Data, result.MimeType); err != nil {
		return nil, err
	}
	url, err := s.artifacts.PresignedURL(ctx, key, result.Filename, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"url":      url,
		"filename": result.Filename,
		"mimeType": result.MimeType,
	}, nil
}

// ---- bootstrap ----


// Bootstrap seeds the schema catalog and, on an empty database, one sample
// document so the admin UI has something to open.
func (s *Service) Bootstrap(ctx context.Context) error {
	datatypeSeeds := []store.Datatype{
		{ID: "dt_page", Alias: "page", Label: "Page"},
		{ID: "dt_section", Alias: "section", Label: "Section"},
		{ID: "dt_article", Alias: "article", Label: "Article"},
	}
	for _, seed := range datatypeSeeds {
		if err := s.store.InsertDatatype(ctx, seed); err != nil {
			return err
		}
	}

	definitionSeeds := []store.FieldDefinition{
		{ID: "title", Label: "Title", Type: content.FieldText, Validation: []byte(`{"required":true}`)},
		{ID: "slug", Label: "Slug", Type: content.FieldSlug},
		{ID: "summary", Label: "Summary", Type: content.FieldTextarea},
		{ID: "body", Label: "Body", Type: content.FieldRichtext, UIConfig: []byte(`{"rows":12}`)},
	}
	for _, seed := range definitionSeeds {
		if err := s.store.InsertFieldDefinition(ctx, seed); err != nil {
			return err
		}
	}

	assignmentSeeds := []store.DatatypeField{
		{ID: "dtf_section_title", DatatypeID: "dt_section", FieldID: "title", SortOrder: 0},
		{ID: "dtf_article_title", DatatypeID: "dt_article", FieldID: "title", SortOrder: 0},
		{ID: "dtf_article_slug", DatatypeID: "dt_article", FieldID: "slug", SortOrder: 1},
		{ID: "dtf_article_summary", DatatypeID: "dt_article", FieldID: "summary", SortOrder: 2},
		{ID: "dtf_article_body", DatatypeID: "dt_article", FieldID: "body", SortOrder: 3},
	}
	for _, seed := range assignmentSeeds {
		if err := s.store.InsertDatatypeField(ctx, seed); err != nil {
			return err
		}
	}

	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(documents) > 0 {
		return nil
	}

	owner, err := s.store.EnsureUserByName(ctx, "Avery")
	if err != nil {
		return err
	}

	doc := store.Document{
		ID:        "doc_welcome",
		Title:     "Welcome",
		RootID:    "blk_welcome_root",
		UpdatedBy: owner.DisplayName,
	}
	if err := s.store.InsertDocument(ctx, doc, "dt_page"); err != nil {
		return err
	}

	sectionID := util.NewID("blk")
	if err := s.store.InsertContent(ctx, sectionID, doc.ID, "dt_section", doc.RootID); err != nil {
		return err
	}
	articleID := util.NewID("blk")
	if err := s.store.InsertContent(ctx, articleID, doc.ID, "dt_article", sectionID); err != nil {
		return err
	}
	fieldSeeds := []struct {
		nodeID  string
		fieldID string
		value   string
	}{
		{sectionID, "title", "Getting started"},
		{articleID, "title", "Your first block"},
		{articleID, "body", "Drag blocks to restructure the page, edit fields inline, and save when ready."},
	}
	for _, seed := range fieldSeeds {
		if err := s.store.InsertContentField(ctx, util.NewID("cf"), seed.nodeID, seed.fieldID, seed.value); err != nil {
			return err
		}
	}

	if s.revisions != nil {
		_, tree, err := s.loadTree(ctx, doc.ID)
		if err != nil {
			return err
		}
		sc, err := s.loadSchema(ctx)
		if err != nil {
			return err
		}
		if err := s.revisions.EnsureDocumentRepo(doc.ID, snapshotFromTree(doc.Title, tree, sc), owner.DisplayName); err != nil {
			return err
		}
	}
	return nil
}
