package store

import (
	"context"
	"strings"

	"github.io/infrasutra/mailmcp/internal/apperr"
)

func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	templates := []Template{}
	err := s.db.SelectContext(ctx, &templates, `SELECT id, name, format_string FROM templates ORDER BY id;`)
	if err != nil {
		return nil, apperr.Store(err, "list templates")
	}
	return templates, nil
}

func (s *Store) FindTemplateByName(ctx context.Context, name string) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var template Template
	err := s.db.GetContext(ctx, &template,
		`SELECT id, name, format_string FROM templates WHERE name = ?;`, name)
	if err != nil {
		if isNoRows(err) {
			return Template{}, apperr.NotFound("template %q not found", name)
		}
		return Template{}, apperr.Store(err, "find template by name")
	}
	return template, nil
}

func (s *Store) NewTemplate(ctx context.Context, name, formatString string) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var template Template
	err := s.db.GetContext(ctx, &template,
		`INSERT INTO templates (name, format_string) VALUES (?, ?) RETURNING id, name, format_string;`,
		name, formatString)
	if err != nil {
		if constraintKind(err) == apperr.KindConflict {
			return Template{}, apperr.Conflict("template %q already exists", name)
		}
		return Template{}, apperr.Store(err, "insert template")
	}
	return template, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, id int64, update TemplateUpdate) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sets []string
	var args []any
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.FormatString != nil {
		sets = append(sets, "format_string = ?")
		args = append(args, *update.FormatString)
	}

	var template Template
	var err error
	if len(sets) == 0 {
		err = s.db.GetContext(ctx, &template, `SELECT id, name, format_string FROM templates WHERE id = ?;`, id)
	} else {
		args = append(args, id)
		err = s.db.GetContext(ctx, &template,
			`UPDATE templates SET `+strings.Join(sets, ", ")+` WHERE id = ? RETURNING id, name, format_string;`, args...)
	}
	if err != nil {
		if isNoRows(err) {
			return Template{}, apperr.NotFound("template %d not found", id)
		}
		if constraintKind(err) == apperr.KindConflict && update.Name != nil {
			return Template{}, apperr.Conflict("template %q already exists", *update.Name)
		}
		return Template{}, apperr.Store(err, "update template")
	}
	return template, nil
}

func (s *Store) RemoveTemplate(ctx context.Context, id int64) (Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var template Template
	err := s.db.GetContext(ctx, &template,
		`DELETE FROM templates WHERE id = ? RETURNING id, name, format_string;`, id)
	if err != nil {
		if isNoRows(err) {
			return Template{}, apperr.NotFound("template %d not found", id)
		}
		return Template{}, apperr.Store(err, "remove template")
	}
	return template, nil
}
