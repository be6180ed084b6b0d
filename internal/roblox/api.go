package roblox

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// User is a Roblox account.
type User struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	// Created is only filled by User.
	Created time.Time `json:"created"`
}

// Role is a rank within a group.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

// Group is the subset of group data the bot needs.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Membership is one group a user belongs to, with their role in it.
type Membership struct {
	Group Group `json:"group"`
	Role  Role  `json:"role"`
}

// AuthenticatedUser returns the account that owns the cookie.
func (c *Client) AuthenticatedUser(ctx context.Context) (User, error) {
	var u User
	if err := c.get(ctx, c.usersURL+"/v1/users/authenticated", &u); err != nil {
		return User{}, fmt.Errorf("authenticated user: %w", err)
	}
	return u, nil
}

// UserByUsername resolves an exact username.
func (c *Client) UserByUsername(ctx context.Context, username string) (User, error) {
	name := strings.TrimSpace(username)
	if name == "" {
		return User{}, ErrNotFound
	}
	req := struct {
		Usernames          []string `json:"usernames"`
		ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
	}{Usernames: []string{name}, ExcludeBannedUsers: true}
	var resp struct {
		Data []User `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, c.usersURL+"/v1/usernames/users", req, &resp); err != nil {
		return User{}, fmt.Errorf("lookup %q: %w", name, err)
	}
	if len(resp.Data) == 0 {
		return User{}, ErrNotFound
	}
	return resp.Data[0], nil
}

// User returns the profile for id, including its description.
func (c *Client) User(ctx context.Context, id int64) (User, error) {
	var u User
	if err := c.get(ctx, fmt.Sprintf("%s/v1/users/%d", c.usersURL, id), &u); err != nil {
		return User{}, fmt.Errorf("user %d: %w", id, err)
	}
	return u, nil
}

// UserGroupRoles lists every group the user is in.
func (c *Client) UserGroupRoles(ctx context.Context, id int64) ([]Membership, error) {
	var resp struct {
		Data []Membership `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/v2/users/%d/groups/roles", c.groupsURL, id), &resp); err != nil {
		return nil, fmt.Errorf("groups of user %d: %w", id, err)
	}
	return resp.Data, nil
}

// GroupRoles lists the roles defined in a group, lowest rank first.
func (c *Client) GroupRoles(ctx context.Context, groupID int64) ([]Role, error) {
	var resp struct {
		Roles []Role `json:"roles"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/v1/groups/%d/roles", c.groupsURL, groupID), &resp); err != nil {
		return nil, fmt.Errorf("roles of group %d: %w", groupID, err)
	}
	return resp.Roles, nil
}

// SetRank assigns roleID to the user within the group.
func (c *Client) SetRank(ctx context.Context, groupID, userID, roleID int64) error {
	body := struct {
		RoleID int64 `json:"roleId"`
	}{roleID}
	url := fmt.Sprintf("%s/v1/groups/%d/users/%d", c.groupsURL, groupID, userID)
	if err := c.do(ctx, http.MethodPatch, url, body, nil); err != nil {
		return fmt.Errorf("set rank of %d in %d: %w", userID, groupID, err)
	}
	return nil
}
