package app

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"synkdocs/api/internal/store"
	"synkdocs/api/internal/util"
)

const (
	threadOpen     = "OPEN"
	threadResolved = "RESOLVED"

	notificationCommentReply   = "comment_reply"
	notificationThreadResolved = "thread_resolved"

	maxCommentLength   = 10000
	notificationsLimit = 100
	unanchored         = "Unanchored"
)

type CreateThreadInput struct {
	Anchor string `json:"anchor"`
	Text   string `json:"text"`
}

type ThreadReplyInput struct {
	Body string `json:"body"`
}

// ListThreads returns the document's threads oldest first, each with its
// replies.
func (s *Service) ListThreads(ctx context.Context, documentID string) ([]map[string]any, error) {
	if _, err := s.liveDocument(ctx, documentID); err != nil {
		return nil, err
	}
	threads, err := s.store.ListThreads(ctx, documentID)
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(threads))
	for _, thread := range threads {
		items = append(items, threadView(thread, replies[thread.ID]))
	}
	return items, nil
}

func (s *Service) CreateThread(ctx context.Context, session Session, documentID string, input CreateThreadInput) (map[string]any, error) {
	if _, err := s.liveDocument(ctx, documentID); err != nil {
		return nil, err
	}
	text, err := commentText(input.Text, "text")
	if err != nil {
		return nil, err
	}
	anchor := strings.TrimSpace(input.Anchor)
	if anchor == "" {
		anchor = unanchored
	}
	thread := store.Thread{
		ID:         util.NewID("thr"),
		DocumentID: documentID,
		Anchor:     anchor,
		Text:       text,
		Status:     threadOpen,
		AuthorID:   session.UserID,
		Author:     session.UserName,
	}
	if err := s.store.InsertThread(ctx, thread); err != nil {
		return nil, err
	}
	return s.threadPayload(ctx, documentID, thread.ID)
}

// ReplyThread appends a reply and notifies the thread author when someone
// else replied.
func (s *Service) ReplyThread(ctx context.Context, session Session, documentID, threadID string, input ThreadReplyInput) (map[string]any, error) {
	document, err := s.liveDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	thread, err := s.store.GetThread(ctx, documentID, threadID)
	if err != nil {
		return nil, err
	}
	body, err := commentText(input.Body, "body")
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertReply(ctx, store.Reply{
		ID:       util.NewID("ann"),
		ThreadID: threadID,
		AuthorID: session.UserID,
		Author:   session.UserName,
		Body:     body,
	}); err != nil {
		return nil, err
	}
	s.notify(ctx, session, thread, store.Notification{
		Type:    notificationCommentReply,
		Title:   "New reply on " + document.Title,
		Message: session.UserName + ": " + truncate(body, 140),
	})
	return s.threadPayload(ctx, documentID, threadID)
}

// ResolveThread returns sql.ErrNoRows when the thread is missing or already
// resolved.
func (s *Service) ResolveThread(ctx context.Context, session Session, documentID, threadID string) (map[string]any, error) {
	document, err := s.liveDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	changed, err := s.store.ResolveThread(ctx, documentID, threadID, session.UserName)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, sql.ErrNoRows
	}
	thread, err := s.store.GetThread(ctx, documentID, threadID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, session, thread, store.Notification{
		Type:    notificationThreadResolved,
		Title:   "Thread resolved on " + document.Title,
		Message: session.UserName + " resolved \"" + truncate(thread.Text, 80) + "\"",
	})
	replies, err := s.store.ListReplies(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return threadView(thread, replies[threadID]), nil
}

// ReopenThread returns sql.ErrNoRows when the thread is missing or not
// resolved.
func (s *Service) ReopenThread(ctx context.Context, documentID, threadID string) (map[string]any, error) {
	if _, err := s.liveDocument(ctx, documentID); err != nil {
		return nil, err
	}
	changed, err := s.store.ReopenThread(ctx, documentID, threadID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, sql.ErrNoRows
	}
	return s.threadPayload(ctx, documentID, threadID)
}

func (s *Service) ListNotifications(ctx context.Context, session Session, unreadOnly bool) ([]map[string]any, error) {
	items, err := s.store.ListNotifications(ctx, session.UserID, unreadOnly, notificationsLimit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"id":        item.ID,
			"type":      item.Type,
			"title":     item.Title,
			"message":   item.Message,
			"link":      item.Link,
			"read":      item.Read,
			"createdAt": item.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// MarkNotificationRead returns sql.ErrNoRows when the notification is not an
// unread notification of the session user.
func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "notification id is required", nil)
	}
	changed, err := s.store.MarkNotificationsRead(ctx, session.UserID, []string{notificationID})
	if err != nil {
		return err
	}
	if changed == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int64, error) {
	return s.store.MarkNotificationsRead(ctx, session.UserID, nil)
}

// notify records a notification for the thread author unless the author
// triggered it. Failures are logged and never fail the request.
func (s *Service) notify(ctx context.Context, session Session, thread store.Thread, item store.Notification) {
	if thread.AuthorID == "" || thread.AuthorID == session.UserID {
		return
	}
	item.ID = util.NewID("ntf")
	item.UserID = thread.AuthorID
	item.Link = "/documents/" + thread.DocumentID + "#" + thread.ID
	if err := s.store.InsertNotification(ctx, item); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"thread_id": thread.ID,
			"user_id":   thread.AuthorID,
		}).Warn("notification not recorded")
	}
}

func (s *Service) liveDocument(ctx context.Context, documentID string) (store.Document, error) {
	if err := checkDocumentID(documentID); err != nil {
		return store.Document{}, err
	}
	return s.store.GetDocument(ctx, documentID)
}

func (s *Service) threadPayload(ctx context.Context, documentID, threadID string) (map[string]any, error) {
	thread, err := s.store.GetThread(ctx, documentID, threadID)
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return threadView(thread, replies[threadID]), nil
}

func commentText(raw, field string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", field+" is required", nil)
	}
	if len(text) > maxCommentLength {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", field+" is too long", map[string]any{"max": maxCommentLength})
	}
	return text, nil
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

func threadView(thread store.Thread, replies []store.Reply) map[string]any {
	items := make([]map[string]any, 0, len(replies))
	for _, reply := range replies {
		items = append(items, map[string]any{
			"id":        reply.ID,
			"author":    reply.Author,
			"body":      reply.Body,
			"createdAt": reply.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	view := map[string]any{
		"id":         thread.ID,
		"documentId": thread.DocumentID,
		"anchor":     thread.Anchor,
		"text":       thread.Text,
		"status":     thread.Status,
		"author":     thread.Author,
		"resolvedBy": nil,
		"resolvedAt": nil,
		"createdAt":  thread.CreatedAt.UTC().Format(time.RFC3339),
		"replies":    items,
	}
	if thread.Status == threadResolved {
		view["resolvedBy"] = thread.ResolvedBy
		if thread.ResolvedAt != nil {
			view["resolvedAt"] = thread.ResolvedAt.UTC().Format(time.RFC3339)
		}
	}
	return view
}
