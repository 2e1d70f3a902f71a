package headhunter

import (
	"context"
	"fmt"
	"strings"
)

type Resumes struct {
	Items []*Resume
}

type Resume struct {
	Title string `json:"title,omitempty"`
	ID    string `json:"id,omitempty"`
}

func (c *Client) getResumes(ctx context.Context, id string) (*Resumes, error) {
	apiURLMineResumes := fmt.Sprintf("%s/resumes/%s", c.APIURL, id)

	items, err := c.GetItems(ctx, apiURLMineResumes, nil, 0)
	if err != nil {
		return nil, err
	}

	var resumes []*Resume
	if err = decodeItems(items, &resumes); err != nil {
		return nil, err
	}

	return &Resumes{
		Items: resumes,
	}, nil
}

func (r *Resumes) Len() int {
	return len(r.Items)
}

func (r *Resumes) Titles() []string {
	titles := make([]string, 0, len(r.Items))

	for _, v := range r.Items {
		titles = append(titles, v.Title)
	}

	return titles
}

// FindByTitle matches titles ignoring case and surrounding space.
func (r *Resumes) FindByTitle(title string) *Resume {
	title = strings.TrimSpace(title)
	for _, resume := range r.Items {
		if strings.EqualFold(strings.TrimSpace(resume.Title), title) {
			return resume
		}
	}

	return nil
}

// ResolveResume returns the id of the resume used for negotiations. A single
// resume is picked without a title; several need one.
func (c *Client) ResolveResume(ctx context.Context, title string) (string, error) {
	resumes, err := c.GetMineResumes(ctx)
	if err != nil {
		return "", fmt.Errorf("listing resumes: %w", err)
	}

	switch {
	case resumes.Len() == 0:
		return "", fmt.Errorf("no resumes found")
	case strings.TrimSpace(title) != "":
		if r := resumes.FindByTitle(title); r != nil {
			return r.ID, nil
		}
		return "", fmt.Errorf("resume %q not found, available: %s", title, strings.Join(resumes.Titles(), ", "))
	case resumes.Len() == 1:
		return resumes.Items[0].ID, nil
	default:
		return "", fmt.Errorf("several resumes found, set a title: %s", strings.Join(resumes.Titles(), ", "))
	}
}
