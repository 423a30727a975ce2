package tagr

import (
	"context"

	"tagr/internal/model"
	"tagr/internal/query"
)

// QueryItemsByParseTreeCommand evaluates a parsed query against the catalog.
// Items carries the matches, sorted by id, after a successful Execute.
type QueryItemsByParseTreeCommand struct {
	Tree query.Expr

	Items []model.Item
}

func (c *QueryItemsByParseTreeCommand) Name() string { return "QueryItemsByParseTree" }

func (c *QueryItemsByParseTreeCommand) Execute(ctx context.Context, s Session, env *Env) error {
	items, err := query.Evaluate(ctx, c.Tree, s)
	if err != nil {
		return err
	}
	c.Items = items
	return nil
}
