// Package simplecms persists headless CMS entries, media and an editorial
// workflow on an S3-compatible object store.
//
// Objects live under three namespaces:
//
//	published/{collection}/{slug}.md
//	unpublished/{collection}/{slug}.md
//	media/{folder}/{name}/{id}
//
// Workflow status and entry identity travel as percent-encoded object
// metadata. The store offers no multi-key transactions, so publish (copy then
// delete) and status updates (copy onto self) may be observed half done after
// a failure. Retrying completes them; see package reconcile for finding
// entries left in between.
//
// Basic usage:
//
//	store := memory.New()
//	repo, err := simplecms.New(simplecms.DefaultConfig(), simplecms.WithStore(store))
//	if err != nil {
//		return err
//	}
//	err = repo.PersistEntry(ctx, simplecms.Entry{Collection: "blog", Slug: "hello", Raw: body},
//		simplecms.PersistOptions{NewEntry: true})
package simplecms
