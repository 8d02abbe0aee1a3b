package graph

import (
	"context"
	"fmt"
	"strings"
)

// CircularRedirectError is returned when following redirects revisits a title.
type CircularRedirectError struct {
	Chain []string
}

func (e *CircularRedirectError) Error() string {
	return fmt.Sprintf("circular redirection detected: %s", strings.Join(e.Chain, " -> "))
}

// Resolve follows the redirect chain starting at title and returns the
// final title.
func (r *Records) Resolve(ctx context.Context, title string) (string, error) {
	return r.follow(ctx, nil, title)
}

// CheckRedirect reports whether giving title the redirect target would
// create a cycle.
func (r *Records) CheckRedirect(ctx context.Context, title, target string) error {
	if target == "" {
		return nil
	}
	_, err := r.follow(ctx, []string{title}, target)
	return err
}

func (r *Records) follow(ctx context.Context, chain []string, title string) (string, error) {
	visited := make(map[string]bool, len(chain)+1)
	for _, t := range chain {
		visited[t] = true
	}
	cur := title
	for {
		chain = append(chain, cur)
		if visited[cur] {
			return "", &CircularRedirectError{Chain: chain}
		}
		visited[cur] = true

		page, err := r.Find(ctx, cur)
		if err != nil {
			return "", err
		}
		if page == nil || page.Redirect == "" {
			return cur, nil
		}
		cur = page.Redirect
	}
}
