// Package rest executes PostgREST-style requests against PostgreSQL
// resources.
//
// A Pipeline parses query parameters into a query.Request, compiles it with
// the compiler package and runs it through a pgx Executor. Every read goes
// through the same stages:
//
//	base query -> Scope hook -> HandleParam hook (per custom param)
//	  -> filters -> select/embeds -> order -> limit/offset
//	  -> execute -> preloads -> AfterLoad hook (per root row)
//
// Query parameters:
//
//	Parameter                  | Description
//	---------------------------|------------------------------------------------
//	?select=id,title           | Select columns
//	?select=n:name             | Rename a column
//	?select=*,posts(id,title)  | Embed an association (correlated preload)
//	?select=*,posts!inner(id)  | Keep only parents with a matching child
//	?posts=is.null             | Keep only parents without children (anti-join)
//	?posts.status=eq.published | Filter embedded rows
//	?posts.order=id.desc       | Order embedded rows
//	?posts.limit=3             | Limit embedded rows per parent
//	?order=col.desc.nullslast  | Order results
//	?limit=100&offset=0        | Paginate
//	?col=eq.val                | Filter, any operator of eq, neq, gt, gte, lt,
//	                           | lte, like, ilike, match, imatch, isdistinct,
//	                           | in, is, cs, cd, ov, sl, sr, nxr, nxl, adj,
//	                           | fts, plfts, phfts, wfts
//	?col=not.eq.val            | Negate a filter
//	?or=(a.lt.1,and(b.gt.2))   | Combine filters with logical operators
//
// The Prefer header (see ParsePrefer) selects the count strategy of reads
// (exact, planned, estimated) and the return, resolution and missing
// behavior of writes. UpdateWhere and DeleteWhere take requests from
// ParseWrite, which leaves out the read max limit.
//
// Example usage:
//
//	pool, err := pgxpool.New(ctx, connString)
//	if err != nil {
//		log.Fatal(err)
//	}
//	resources, err := resource.LoadFile("resources.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	reg, err := resource.Build(resources...)
//	if err != nil {
//		log.Fatal(err)
//	}
//	users, _ := reg.Lookup("users")
//
//	p := rest.New(pg.NewDB(pool), rest.WithMaxLimit(100))
//	req, err := p.Parse(users, r.URL.Query())
//	if err != nil {
//		log.Fatal(err)
//	}
//	result, err := p.Read(ctx, users, req, rest.ParsePrefer(r.Header.Get("Prefer")).CountMode())
package rest
