package graphql

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema.graphql
var schemaSDL string

type operation struct {
	name     string
	document string
}

var (
	opFollowing = operation{
		name: "Following",
		document: `query Following($login: String!, $page: Int!, $perPage: Int!) {
  user(login: $login) {
    followingCount
    following(page: $page, perPage: $perPage) {
      id
      name
      login
    }
  }
}`,
	}
	opMe = operation{
		name: "Me",
		document: `query Me($page: Int!, $perPage: Int!) {
  me {
    followingCount
    following(page: $page, perPage: $perPage) {
      id
      name
      login
    }
  }
}`,
	}
	opFollow = operation{
		name: "Follow",
		document: `mutation Follow($login: String!) {
  follow(login: $login) {
    id
    name
    login
  }
}`,
	}
)

// loadSchema parses the server schema and validates every operation the
// client sends against it.
var loadSchema = sync.OnceValues(func() (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: schemaSDL})
	if err != nil {
		return nil, fmt.Errorf("failed to load graphql schema: %w", err)
	}

	for _, op := range []operation{opFollowing, opMe, opFollow} {
		if _, errs := gqlparser.LoadQuery(schema, op.document); len(errs) > 0 {
			return nil, fmt.Errorf("invalid graphql operation '%s': %w", op.name, errs)
		}
	}

	return schema, nil
})
