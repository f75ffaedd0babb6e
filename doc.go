/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# cuberepo: a branch-aware repository manager for multi-dimensional cubes

## What it coordinates

A multi-tenant repository of named decision tables ("cubes"), addressed
by the 5-tuple tenant/app/version/status/branch ("AppId"), with
distributed-source-control semantics layered on top: branches off HEAD,
three-way merge and conflict detection, fast-forward, rollback, and
release promotion.

## Data Model

* AppId, the addressing tuple (tenant, app, version, status, branch).

* Cube, an opaque named multi-dimensional table supplied by the host
  application through the CubePort contract.

* CubeInfo, the per-revision descriptor (sha1, headSha1, revision,
  changeType) used to classify branch changes against HEAD without
  loading full cube bodies.

* Administrative cubes (sys.permissions, sys.usergroups,
  sys.branch.permissions, sys.lock) drive the permission evaluator and
  the cross-process advisory lock by ordinary cube lookups - the
  evaluator is the only code that interprets their shape.

## Architecture

A single process-wide Manager facade wires together the leaf
components, leaves first:

* CacheRegistry - per-AppId name -> (Cube | NotFound) cache

* AdviceRegistry - wildcard-bound interceptors applied on hydration

* PermissionEvaluator - role resolution + resource-pattern matching

* LockCoordinator - the durable sys.lock advisory lock

* BranchEngine - diff classification, commit/update/rollback/merge

* LifecycleController - release, version move, branch bootstrap

* Broadcaster - fan-out of structural-change notifications

Cube mutations (update, duplicate, rename, delete, rollback, restore,
commit, update-branch) funnel through permission check -> lock check ->
persister call -> cache invalidation -> broadcast; CreateBranch,
DeleteBranch, UpdateTestData and UpdateNotes call the persister without
a permission check. Reads shortcut after the cache check.

## Building Blocks

* blobstore log/config/errors
* grpc-ecosystem/go-grpc-prometheus + prometheus/client_golang
* golang.org/x/sync (errgroup, singleflight)
* golang.org/x/time/rate
* google.golang.org/grpc
* google/uuid

*/

package cuberepo
