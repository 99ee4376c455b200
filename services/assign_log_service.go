package services

import (
	"context"
	"strings"
	"time"

	"user-level-system/models"

	"gorm.io/gorm"
)

// DateTimeLayout is how assign log times are rendered to clients.
const DateTimeLayout = "2006-01-02 15:04:05"

const (
	maxLogPageSize = 2000
	maxLogPage     = 1000
)

// AssignLogQuery selects one user's history. With LastID set, rows older than LastID
// are returned and Page is ignored.
type AssignLogQuery struct {
	UserID string `query:"user_id"`
	Page   int    `query:"page"`
	Size   int    `query:"size"`
	LastID string `query:"last_id"`
}

// AssignLogView is one rendered history row.
type AssignLogView struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	OldLevel   *models.LevelInfo `json:"old_level"`
	NewLevel   *models.LevelInfo `json:"new_level"`
	Type       models.AssignType `json:"type"`
	TypeName   string            `json:"type_name"`
	Remark     string            `json:"remark"`
	AssignTime string            `json:"assign_time"`
	CreateTime string            `json:"create_time"`
	CreatedBy  string            `json:"created_by"`
}

func NewAssignLogView(l models.AssignLog) AssignLogView {
	return AssignLogView{
		ID:         l.ID,
		UserID:     l.UserID,
		OldLevel:   l.OldLevel.Info(),
		NewLevel:   l.NewLevel.Info(),
		Type:       l.Type,
		TypeName:   l.Type.String(),
		Remark:     l.Remark,
		AssignTime: l.AssignTime.Format(DateTimeLayout),
		CreateTime: l.CreatedAt.Format(DateTimeLayout),
		CreatedBy:  l.CreatedBy,
	}
}

type AssignLogService struct {
	DB *gorm.DB
}

func NewAssignLogService(db *gorm.DB) *AssignLogService {
	return &AssignLogService{DB: db}
}

// ListByUser returns the user's transitions newest first.
func (s *AssignLogService) ListByUser(ctx context.Context, q AssignLogQuery) (Page[AssignLogView], error) {
	if strings.TrimSpace(q.UserID) == "" {
		return Page[AssignLogView]{}, ErrInvalidUser
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Size == 0 {
		q.Size = defaultPageSize
	}
	if q.Size < 1 || q.Size > maxLogPageSize {
		return Page[AssignLogView]{}, validationErr("size must be between 1 and %d", maxLogPageSize)
	}
	if q.Page < 1 || q.Page > maxLogPage {
		return Page[AssignLogView]{}, validationErr("page must be between 1 and %d", maxLogPage)
	}

	out := Page[AssignLogView]{Items: []AssignLogView{}, Page: q.Page, Size: q.Size}
	db := s.DB.WithContext(ctx).Model(&models.AssignLog{}).Where("user_id = ?", q.UserID).Session(&gorm.Session{})
	if err := db.Count(&out.Total).Error; err != nil {
		return out, storeErr("count assign logs", err)
	}

	find := db.Preload("OldLevel").Preload("NewLevel").Order("id DESC").Limit(q.Size)
	if q.LastID != "" {
		find = find.Where("id < ?", q.LastID)
	} else {
		find = find.Offset((q.Page - 1) * q.Size)
	}
	var rows []models.AssignLog
	if err := find.Find(&rows).Error; err != nil {
		return out, storeErr("list assign logs", err)
	}
	for _, r := range rows {
		out.Items = append(out.Items, NewAssignLogView(r))
	}
	return out, nil
}

// CreatedBetween returns logs with from <= created_at < to, oldest first, for export.
func (s *AssignLogService) CreatedBetween(ctx context.Context, from, to time.Time) ([]models.AssignLog, error) {
	var rows []models.AssignLog
	err := s.DB.WithContext(ctx).
		Preload("OldLevel").Preload("NewLevel").
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storeErr("export assign logs", err)
	}
	return rows, nil
}
