// Package git provides a GitOps source for governance policy documents.
//
// A Source clones the configured repository, pulls on an interval, and
// hands the policy file to a publish callback whenever HEAD moves. The
// callback compiles and stores the document; a document that fails to
// compile leaves the previous policy in effect.
//
//	src, err := git.NewSource(&cfg.Policy.Git)
//	if err != nil {
//		return err
//	}
//	go src.Poll(ctx, func(ctx context.Context, rev *git.Revision) error {
//		_, err := eng.CompilePolicy(ctx, rev.Content, rev.Commit.Author)
//		return err
//	})
package git
