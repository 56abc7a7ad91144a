// Copyright 2026 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package projection

import (
	"fmt"

	"github.com/abcxyz/github-mirror/pkg/model"
)

// Activity constructors translate domain changes into feed rows. Each
// returns nil when the change is not feed-worthy, and Builder.Append
// tolerates nil, so dispatch can call them unconditionally.

// IssueActivity records issue opens and closes.
func IssueActivity(action string, is *model.Issue) *model.ActivityEntry {
	if action != "opened" && action != "closed" {
		return nil
	}
	return &model.ActivityEntry{
		RepositoryID: is.RepositoryID,
		ActivityType: "issue." + action,
		Title:        is.Title,
		ActorLogin:   is.AuthorLogin,
		EntityNumber: is.Number,
	}
}

// PullRequestActivity records PR opens, merges, and closes. A closed PR
// that was merged reports as merged, not closed.
func PullRequestActivity(action string, pr *model.PullRequest) *model.ActivityEntry {
	switch action {
	case "opened":
	case "closed":
		if pr.Merged {
			action = "merged"
		}
	default:
		return nil
	}
	return &model.ActivityEntry{
		RepositoryID: pr.RepositoryID,
		ActivityType: "pr." + action,
		Title:        pr.Title,
		ActorLogin:   pr.AuthorLogin,
		EntityNumber: pr.Number,
	}
}

// ReviewActivity records submitted reviews under their review state
// (approved, changes_requested, commented).
func ReviewActivity(rv *model.PullRequestReview) *model.ActivityEntry {
	if rv.State == "" {
		return nil
	}
	return &model.ActivityEntry{
		RepositoryID: rv.RepositoryID,
		ActivityType: "pr_review." + rv.State,
		ActorLogin:   rv.AuthorLogin,
		EntityNumber: rv.PullRequestNumber,
	}
}

// CommentActivity records new conversation comments, distinguishing issue
// threads from PR threads.
func CommentActivity(c *model.IssueComment, onPullRequest bool) *model.ActivityEntry {
	activityType := "issue_comment.created"
	if onPullRequest {
		activityType = "pr_comment.created"
	}
	return &model.ActivityEntry{
		RepositoryID: c.RepositoryID,
		ActivityType: activityType,
		ActorLogin:   c.AuthorLogin,
		EntityNumber: c.IssueNumber,
	}
}

// ReviewCommentActivity records new inline review comments.
func ReviewCommentActivity(c *model.PullRequestReviewComment, authorLogin string) *model.ActivityEntry {
	return &model.ActivityEntry{
		RepositoryID: c.RepositoryID,
		ActivityType: "pr_comment.created",
		ActorLogin:   authorLogin,
		EntityNumber: c.PullRequestNumber,
	}
}

// CheckRunActivity records completed check runs that succeeded or failed.
// In-progress updates and neutral conclusions are not feed-worthy.
func CheckRunActivity(cr *model.CheckRun) *model.ActivityEntry {
	if cr.Status != "completed" {
		return nil
	}
	if cr.Conclusion != "success" && cr.Conclusion != "failure" {
		return nil
	}
	return &model.ActivityEntry{
		RepositoryID: cr.RepositoryID,
		ActivityType: "check_run." + cr.Conclusion,
		Title:        cr.Name,
	}
}

// PushActivity records a push of one or more commits to a branch. The title
// template is fixed, including for a single commit.
func PushActivity(repositoryID, branch, pusherLogin string, commitCount int) *model.ActivityEntry {
	if commitCount <= 0 {
		return nil
	}
	return &model.ActivityEntry{
		RepositoryID: repositoryID,
		ActivityType: "push",
		Title:        fmt.Sprintf("Pushed %d commits to %s", commitCount, branch),
		ActorLogin:   pusherLogin,
	}
}
