package mcpserver

// NodeModelContract describes the canonical store and node model that
// LLM consumers operate on through the tools.
const NodeModelContract = `# Othala Node Model Contract

Everything in Othala lives in **stores**: directories of nodes that the
tools open by filesystem path and address by ` + "`" + `store_id` + "`" + ` afterwards.

## Stores

- A store is a tree of nodes with a single **root node**. ` + "`" + `open_store` + "`" + ` and
  ` + "`" + `list_stores` + "`" + ` report the root's id as ` + "`" + `root_node_id` + "`" + `.
- Stores must be opened before any node tool can touch them. Opening is
  idempotent; opening an already-open store returns the same ` + "`" + `store_id` + "`" + `.
- All ids (` + "`" + `store_id` + "`" + `, ` + "`" + `node_id` + "`" + `, ` + "`" + `parent_id` + "`" + `) are UUID strings. Never
  invent them; always use ids returned by a previous tool call.

## Nodes

- A **node** is the unit of content: a typed record with metadata, text
  content and an ordered list of children.
- Every node except the root has exactly one parent. ` + "`" + `create_node` + "`" + ` links
  the new node under ` + "`" + `parent_id` + "`" + `, or under the store root when omitted.
- **Node types** are open-ended tags. Well-known types:
  - ` + "`" + `document` + "`" + ` – text content (the default for new nodes)
  - ` + "`" + `folder` + "`" + ` – structural container, usually no text of its own
  - ` + "`" + `canvas` + "`" + `, ` + "`" + `image` + "`" + ` – specialised content, treat as opaque
- **Metadata** carries ` + "`" + `title` + "`" + ` (the display name everywhere; always set
  it) and optional ` + "`" + `tags` + "`" + ` (lowercase, kebab-case).

## Text content

- Node text is collaborative: edits from different devices merge rather
  than overwrite. ` + "`" + `write_node` + "`" + ` replaces the full text as one edit; read
  the current text first via ` + "`" + `read_node` + "`" + ` and send the complete new text,
  never a fragment or a diff.
- Text is plain UTF-8 Markdown. Structure long content with headings
  rather than splitting it across many tiny nodes.

## Recommended flow

1. ` + "`" + `list_stores` + "`" + ` (or ` + "`" + `open_store` + "`" + ` with a path) to get a ` + "`" + `store_id` + "`" + `.
2. ` + "`" + `list_children` + "`" + ` from the root to orient yourself in the tree.
3. ` + "`" + `read_node` + "`" + ` before editing; ` + "`" + `search_nodes` + "`" + ` to find content by text.
4. ` + "`" + `create_node` + "`" + ` / ` + "`" + `write_node` + "`" + ` to add or change content.

## Example

` + "```" + `
create_node store_id=<store> parent_id=<root> title="Weekly standup 2025-01-20" text="# Standup

Attendees: Alice, Bob.

## Action items

- Alice to review the design doc"
` + "```" + `
`
