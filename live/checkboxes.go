package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/airheartdev/workshop"
	"github.com/airheartdev/workshop/client"
	"github.com/airheartdev/workshop/game"
	"github.com/airheartdev/workshop/mutation"
	"github.com/airheartdev/workshop/optimistic"
)

type Checkboxes struct {
	*Collection[int64, workshop.Checkbox]
	client  *client.Client
	users   Source
	options options
}

// NewCheckboxes follows the checkbox grid. users is the users shape, used to
// name players on the leaderboard.
func NewCheckboxes(c *client.Client, source, users Source, coordinator *mutation.Coordinator, opts ...Option) *Checkboxes {
	return &Checkboxes{
		Collection: NewCollection(source, coordinator, optimistic.Merger[int64, workshop.Checkbox]{
			Key:  func(c workshop.Checkbox) int64 { return c.ID },
			Less: func(a, b workshop.Checkbox) bool { return a.ID < b.ID },
		}),
		client:  c,
		users:   users,
		options: newOptions(opts),
	}
}

// Toggle claims box id for the session user, or releases it if they already
// hold it.
func (c *Checkboxes) Toggle(ctx context.Context, id int64) (workshop.Checkbox, error) {
	session, err := c.client.Session()
	if err != nil {
		return workshop.Checkbox{}, err
	}

	boxes, err := c.View()
	if err != nil {
		return workshop.Checkbox{}, err
	}
	current := workshop.Checkbox{ID: id}
	for _, box := range boxes {
		if box.ID == id {
			current = box
			break
		}
	}
	next := current.Toggled(session.UserID, c.options.now())

	_, err = c.Mutate(ctx, optimistic.Entry[int64, workshop.Checkbox]{
		Key:    id,
		HasKey: true,
		Value:  next,
	}, func(ctx context.Context) (workshop.Txid, error) {
		return c.client.ToggleCheckbox(ctx, id)
	})
	return next, err
}

// Stats scores the grid as currently displayed, pending toggles included.
func (c *Checkboxes) Stats() (game.Stats, error) {
	boxes, err := c.View()
	if err != nil {
		return game.Stats{}, err
	}

	var users []workshop.User
	if c.users != nil {
		for _, raw := range c.users.Rows() {
			var u workshop.User
			if err := json.Unmarshal(raw, &u); err != nil {
				return game.Stats{}, fmt.Errorf("failed to decode user: %w", err)
			}
			users = append(users, u)
		}
	}

	return game.Compute(workshop.GameBoxes(boxes), workshop.UserNames(users)), nil
}
